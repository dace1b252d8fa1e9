package job

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/JeremyHeleine/hateno-go/internal/events"
)

// Client connects to a JobServer, executes every command line it's
// handed, and reports the result back until the server signals there is
// no more work (a nil command_line).
type Client struct {
	addr     string
	recorder events.Recorder
	// Timeout bounds each executed command line. Zero means no timeout.
	Timeout time.Duration
}

// NewClient returns a Client that will dial host:port.
func NewClient(host string, port int, recorder events.Recorder) *Client {
	if recorder == nil {
		recorder = events.Discard
	}
	return &Client{addr: fmt.Sprintf("%s:%d", host, port), recorder: recorder}
}

// Run dials the server and processes command lines until it closes the
// connection.
func (c *Client) Run(ctx context.Context) error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("job: dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := WriteMessage(conn, nextRequest{Query: "next"}); err != nil {
		return err
	}

	for {
		var resp nextResponse
		if err := ReadMessage(conn, &resp); err != nil {
			return nil
		}
		if resp.CommandLine == nil {
			return nil
		}

		entry := c.execute(ctx, *resp.CommandLine)
		if err := WriteMessage(conn, logRequest{Query: "log", Content: entry}); err != nil {
			return err
		}
	}
}

func (c *Client) execute(ctx context.Context, commandLine string) LogEntry {
	c.recorder.Record(events.Event{Type: events.JobDispatch, Message: commandLine})

	runCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", commandLine)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	entry := LogEntry{
		Exec:    commandLine,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Success: err == nil,
	}
	c.recorder.Record(events.Event{Type: events.JobLog, Subject: commandLine, Message: entry.Stderr})
	return entry
}
