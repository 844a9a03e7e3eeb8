// Command delta runs LLM-powered agents against a file-backed journal.
//
// Exit codes: 0 on completion, 1 on failure, 101 when the run paused for
// human input, 130 when interrupted by a signal.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Process exit codes on the CLI boundary.
const (
	exitOK          = 0
	exitFailed      = 1
	exitPaused      = 101
	exitInterrupted = 130
)

// exitError carries a process exit code out of a cobra RunE. An empty
// message means the command already produced its output.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...any) *exitError {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "delta",
		Short:         "Minimalist runtime for LLM-powered agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics on stderr")
	root.AddCommand(newRunCmd())
	root.AddCommand(newContinueCmd())
	root.AddCommand(newListRunsCmd())
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		os.Exit(exitOK)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitFailed)
}
