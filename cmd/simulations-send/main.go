// Command simulations-send is a transport probe: it pushes a local file
// or directory to a remote path through the same [remote.Folder]
// implementation the Maker uses, so a remote transport configuration can
// be checked out before pointing a real Maker run at it.
//
//	simulations-send --remote remote.json LOCAL_PATH REMOTE_PATH
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JeremyHeleine/hateno-go/internal/hateno/clitransport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		remotePath string
		replace    bool
		del        bool
	)

	cmd := &cobra.Command{
		Use:           "simulations-send LOCAL_PATH REMOTE_PATH",
		Short:         "Push a local file or directory to a remote path (transport probe)",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := readRemoteConfig(remotePath)
			if err != nil {
				fmt.Fprintf(stderr, "simulations-send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			rt, err := clitransport.Dial(cfg)
			if err != nil {
				fmt.Fprintf(stderr, "simulations-send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			defer rt.Close() //nolint:errcheck // best-effort on exit

			if err := rt.Put(args[0], args[1], replace, del); err != nil {
				fmt.Fprintf(stderr, "simulations-send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			fmt.Fprintf(stdout, "simulations-send: sent %s to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&remotePath, "remote", "", "path to a JSON file describing the remote transport (default: local filesystem)")
	cmd.Flags().BoolVar(&replace, "replace", true, "overwrite the remote path even if it isn't older")
	cmd.Flags().BoolVar(&del, "delete", false, "remove the local copy after a successful send")

	return cmd
}

func readRemoteConfig(path string) (*clitransport.Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading remote config %q: %w", path, err)
	}
	return clitransport.UnmarshalConfig(json.RawMessage(data))
}
