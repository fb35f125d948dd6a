package model

import "time"

// Invocation status constants. These follow the lifecycle of a single test
// process: pending → running → completed | timed_out | errored.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusTimedOut  = "timed_out"
	StatusErrored   = "errored"
)

// Outcome constants classify a finished invocation for callers.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeTimeout    = "timeout"
	OutcomeInfraError = "infra_error"
)

// Error kind constants record which part of the harness produced a
// non-success outcome.
const (
	ErrorKindConfiguration = "configuration"
	ErrorKindLaunch        = "launch"
	ErrorKindExecution     = "execution"
	ErrorKindTimeout       = "timeout"
	ErrorKindInfra         = "infra"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusErrored: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusTimedOut:  true,
		StatusErrored:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is one of the final invocation states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusTimedOut, StatusErrored:
		return true
	}
	return false
}

// Stream names for captured output.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// LogLine represents a single persisted output line from an invocation.
type LogLine struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Stream       string    `json:"stream"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invocation is the record of one test target run. Once it reaches a terminal
// status it is the execution result handed back to the caller.
//
// Environment overrides and forwarded arguments are deliberately absent: they
// are scoped to the run and never persisted.
type Invocation struct {
	ID         string     `json:"id"`
	Target     Target     `json:"target"`
	Executor   string     `json:"executor"`
	Status     string     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Message    string     `json:"message,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Stdout     []byte     `json:"stdout,omitempty"`
	Stderr     []byte     `json:"stderr,omitempty"`
	TimeoutS   *int       `json:"timeout_s,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
