// Command simulations-maker extracts already-archived simulations and
// generates and runs whatever is still missing, using the Maker state
// machine.
//
//	simulations-maker --settings settings.json folder_path simulations_list.json
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by RunE to signal a non-zero
// exit code after the command has already reported its own error.
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
		settingsPath string
		saveUnknown  string
		noUI         bool
	)

	cmd := &cobra.Command{
		Use:           "simulations-maker FOLDER SIMULATIONS_LIST",
		Short:         "Extract, and generate if needed, some simulations",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			opts := runOptions{
				folderPath:       args[0],
				simulationsList:  args[1],
				settingsPath:     settingsPath,
				saveUnknownPath:  saveUnknown,
				progressDisabled: noUI,
			}
			if err := doRun(opts, stdout, stderr); err != nil {
				fmt.Fprintf(stderr, "simulations-maker: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "", "path to the JSON file holding maker settings (required)")
	cmd.Flags().StringVar(&saveUnknown, "save-unknown", "", "write the still-unresolved simulations list to this path instead of only printing it")
	cmd.Flags().BoolVar(&noUI, "no-ui", false, "disable the live progress lines")
	_ = cmd.MarkFlagRequired("settings")

	return cmd
}
