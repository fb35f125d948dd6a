// Package main implements the testrig command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/testrig/internal/report"
)

// Set via ldflags during build.
var version = "dev"

// codedError carries the process exit code for an error returned by a
// command. A nil err exits silently.
type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "testrig",
		Short: "Run test targets through a pluggable executor",
		Long: `testrig runs test targets defined in a manifest.

Each invocation is handed to an executor. The internal executor runs the test
binary as a child process; other executors forward the invocation to a testrig
server. Arguments after "--" are passed to the executor unchanged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.AddCommand(
		newTestCmd(),
		newServeCmd(),
		newTargetsCmd(),
		newExecutorsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, "testrig:", err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(report.ExitInfra)
	}
}
