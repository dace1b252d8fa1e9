// Command simulations-generator renders a batch of simulations' launcher
// script (and command-line storage) into an output directory, without
// running the Maker's extract/wait/download loop around it.
//
//	simulations-generator --output-dir DIR [--recipe R] [--empty-output] FOLDER REQUESTS_JSON
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
		recipe      string
		outputDir   string
		emptyOutput bool
	)

	cmd := &cobra.Command{
		Use:           "simulations-generator FOLDER REQUESTS_JSON",
		Short:         "Render a batch of simulations' launcher script without running the Maker loop",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			opts := runOptions{
				folderPath:   args[0],
				requestsPath: args[1],
				recipe:       recipe,
				outputDir:    outputDir,
				emptyOutput:  emptyOutput,
			}
			if err := doRun(opts, stdout); err != nil {
				fmt.Fprintf(stderr, "simulations-generator: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&recipe, "recipe", "", "named config/skeleton set to use (default: the folder's default_config)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to render the launcher script and command lines into (required)")
	cmd.Flags().BoolVar(&emptyOutput, "empty-output", false, "wipe output-dir first if it already exists, instead of failing")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}
