package job

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/JeremyHeleine/hateno-go/internal/events"
)

// LogEntry is one completed command line's result, as logged by the
// server and polled by the Maker's WAIT step.
type LogEntry struct {
	Exec    string `json:"exec"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

type nextRequest struct {
	Query string `json:"query"`
}

type logRequest struct {
	Query   string   `json:"query"`
	Content LogEntry `json:"content"`
}

type nextResponse struct {
	CommandLine *string `json:"command_line"`
}

// Server distributes command lines to connecting clients and persists
// the results log to disk on every append. It listens on 127.0.0.1,
// trying successive ports starting at 21621 until one binds, the way
// the original implementation does.
type Server struct {
	listener net.Listener
	recorder events.Recorder

	mu           sync.Mutex
	commandLines []string
	current      int
	log          []LogEntry
	logPath      string
}

// NewServer opens a listener and returns a Server ready to hand out
// commandLines. logPath is where the JSON array log is rewritten after
// every completed command line; the Maker's WAIT step polls this exact
// path.
func NewServer(commandLines []string, logPath string, recorder events.Recorder) (*Server, error) {
	if recorder == nil {
		recorder = events.Discard
	}
	const basePort = 21621
	var (
		ln  net.Listener
		err error
	)
	for port := basePort; port < basePort+1000; port++ {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			break
		}
	}
	if ln == nil {
		return nil, fmt.Errorf("job: could not bind a listener: %w", err)
	}

	s := &Server{
		listener:     ln,
		recorder:     recorder,
		commandLines: commandLines,
		current:      -1,
		logPath:      logPath,
	}
	if err := s.writeLog(); err != nil {
		ln.Close()
		return nil, err
	}
	return s, nil
}

// Addr returns the host and port clients should dial.
func (s *Server) Addr() (string, int) {
	tcpAddr := s.listener.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

// Log returns a snapshot of the results logged so far.
func (s *Server) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// Run accepts connections and serves requests until every client that
// ever connected has disconnected, mirroring the original's
// "_allClosed()" termination condition: the server only stops once at
// least one client connected and all of them have since closed.
func (s *Server) Run() error {
	defer s.listener.Close()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected int
		closed    int
	)
	clientDone := make(chan struct{})

	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			connected++
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serveConn(conn)
				mu.Lock()
				closed++
				done := connected > 0 && closed >= connected
				mu.Unlock()
				if done {
					select {
					case clientDone <- struct{}{}:
					default:
					}
				}
			}()
		}
	}()

	<-clientDone
	s.listener.Close()
	wg.Wait()
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		var raw json.RawMessage
		if err := ReadMessage(conn, &raw); err != nil {
			return
		}

		var base struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return
		}

		switch base.Query {
		case "log":
			var req logRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return
			}
			s.logCommandLine(req.Content)
			if err := s.sendNext(conn); err != nil {
				return
			}
		case "next":
			if err := s.sendNext(conn); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) sendNext(conn net.Conn) error {
	s.mu.Lock()
	s.current++
	var cmd *string
	if s.current < len(s.commandLines) {
		c := s.commandLines[s.current]
		cmd = &c
	}
	s.mu.Unlock()

	s.recorder.Record(events.Event{Type: events.JobDispatch, Message: strOrEmpty(cmd)})
	return WriteMessage(conn, nextResponse{CommandLine: cmd})
}

func (s *Server) logCommandLine(entry LogEntry) {
	s.mu.Lock()
	s.log = append(s.log, entry)
	s.mu.Unlock()
	s.recorder.Record(events.Event{Type: events.JobLog, Subject: entry.Exec, Message: entry.Stdout})
	if err := s.writeLog(); err != nil {
		s.recorder.Record(events.Event{Type: events.MakerFailure, Message: err.Error()})
	}
}

// writeLog rewrites the JSON array log file with the current log
// snapshot. Called on every append, so a poller reading logPath always
// sees a complete, valid JSON array.
func (s *Server) writeLog() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.log, "", "\t")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	tmp := s.logPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("job: writing log %q: %w", s.logPath, err)
	}
	return os.Rename(tmp, s.logPath)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
