package executor

import (
	"context"
	"time"
)

// Executor is the interface that all test executors must implement. The
// internal executor runs the test process on this host; other executors hand
// the invocation to somewhere else.
type Executor interface {
	// Execute runs one test invocation. Forwarded arguments in spec.Args are
	// interpreted by the executor. A non-nil error means the invocation could
	// not be carried out at all; timeouts and non-zero exits are reported in
	// the Result.
	Execute(ctx context.Context, spec Spec) (Result, error)

	// Capabilities reports what this executor supports.
	Capabilities() Capabilities

	// Cleanup releases any resources still held for the given invocation,
	// terminating it if it is still running.
	Cleanup(ctx context.Context, invocationID string) error
}

// Spec describes one test invocation handed to an executor.
type Spec struct {
	ID     string `json:"id"`
	Target string `json:"target"`

	// Command is the test binary and its fixed arguments.
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`

	// Env holds target-level overrides applied on top of the ambient
	// environment. Forwarded --env overrides are applied after these.
	Env map[string]string `json:"env,omitempty"`

	// Args are the arguments that followed the separator on the command
	// line, verbatim.
	Args []string `json:"args,omitempty"`

	// TimeoutS is the deadline used when Args carry no --timeout. Zero means
	// the executor's default.
	TimeoutS int `json:"timeout_s,omitempty"`

	// LogWriter is an optional callback that executors invoke for every line
	// of output as it is produced.
	LogWriter func(stream, line string) `json:"-"`
}

// Result holds what an executor observed about a finished test process.
type Result struct {
	// State is the terminal lifecycle state: model.StatusCompleted,
	// StatusTimedOut or StatusErrored.
	State    string        `json:"state"`
	ExitCode int           `json:"exit_code"`
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	Error    string        `json:"error,omitempty"`
	Timeout  time.Duration `json:"timeout"`
	Duration time.Duration `json:"duration"`
}

// Capabilities describes what an executor supports.
type Capabilities struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Local          bool   `json:"local"`
	MaxConcurrency int    `json:"max_concurrency"`
}
