// Package report turns what an executor observed into exactly one outcome
// per invocation, and renders outcomes for people and for exit codes.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/supervise"
)

// Message prefixes. Callers match on TimeoutPrefix to tell a timeout apart
// from a failure.
const (
	TimeoutPrefix = "Timeout: "
	FailurePrefix = "Failure: "
	ErrorPrefix   = "Error: "
)

// Verdict is the classification of one finished invocation.
type Verdict struct {
	Outcome   string
	ErrorKind string
	// Status is the terminal lifecycle status matching Outcome.
	Status  string
	Message string
}

// Classify maps an executor result, or the error that prevented one, to a
// verdict. The same inputs always produce the same verdict.
func Classify(target model.Target, res executor.Result, err error) Verdict {
	if err != nil {
		return classifyError(err)
	}

	switch res.State {
	case model.StatusTimedOut:
		return Verdict{
			Outcome:   model.OutcomeTimeout,
			ErrorKind: model.ErrorKindTimeout,
			Status:    model.StatusTimedOut,
			Message:   fmt.Sprintf("%s%s exceeded %s", TimeoutPrefix, target, formatTimeout(res.Timeout)),
		}
	case model.StatusCompleted:
		if res.ExitCode == 0 && res.Error == "" {
			return Verdict{Outcome: model.OutcomeSuccess, Status: model.StatusCompleted}
		}
		msg := fmt.Sprintf("%s%s exited with code %d", FailurePrefix, target, res.ExitCode)
		if res.Error != "" {
			msg = fmt.Sprintf("%s%s terminated: %s", FailurePrefix, target, res.Error)
		}
		return Verdict{
			Outcome:   model.OutcomeFailure,
			ErrorKind: model.ErrorKindExecution,
			Status:    model.StatusCompleted,
			Message:   msg,
		}
	}

	reason := res.Error
	if reason == "" {
		reason = fmt.Sprintf("executor returned state %q", res.State)
	}
	return Verdict{
		Outcome:   model.OutcomeInfraError,
		ErrorKind: model.ErrorKindInfra,
		Status:    model.StatusErrored,
		Message:   ErrorPrefix + reason,
	}
}

func classifyError(err error) Verdict {
	v := Verdict{
		Outcome:   model.OutcomeInfraError,
		ErrorKind: model.ErrorKindInfra,
		Status:    model.StatusErrored,
		Message:   ErrorPrefix + err.Error(),
	}

	var cfgErr *executor.ConfigurationError
	var launchErr *supervise.LaunchError
	switch {
	case errors.As(err, &cfgErr):
		v.ErrorKind = model.ErrorKindConfiguration
	case errors.As(err, &launchErr):
		v.ErrorKind = model.ErrorKindLaunch
	case errors.Is(err, context.Canceled):
		v.Message = ErrorPrefix + "invocation cancelled"
	}
	return v
}

// formatTimeout prints whole-second deadlines the way they were given on the
// command line.
func formatTimeout(d time.Duration) string {
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}

// Apply copies a verdict onto an invocation record.
func (v Verdict) Apply(inv *model.Invocation) {
	inv.Status = v.Status
	inv.Outcome = v.Outcome
	inv.ErrorKind = v.ErrorKind
	inv.Message = v.Message
}

// TimeoutError is returned by Err for an invocation that ran out of time.
type TimeoutError struct {
	Target  model.Target
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// FailureError is returned by Err for a test that ran and failed.
type FailureError struct {
	Target   model.Target
	ExitCode int
	Message  string
}

func (e *FailureError) Error() string { return e.Message }

// InfraError is returned by Err when the harness could not produce a test
// verdict at all.
type InfraError struct {
	Target  model.Target
	Kind    string
	Message string
}

func (e *InfraError) Error() string { return e.Message }

// Err returns nil for a successful invocation and a typed error otherwise.
func Err(inv *model.Invocation) error {
	switch inv.Outcome {
	case model.OutcomeSuccess:
		return nil
	case model.OutcomeTimeout:
		return &TimeoutError{Target: inv.Target, Message: inv.Message}
	case model.OutcomeFailure:
		code := 0
		if inv.ExitCode != nil {
			code = *inv.ExitCode
		}
		return &FailureError{Target: inv.Target, ExitCode: code, Message: inv.Message}
	}
	msg := inv.Message
	if msg == "" {
		msg = ErrorPrefix + "invocation did not finish"
	}
	return &InfraError{Target: inv.Target, Kind: inv.ErrorKind, Message: msg}
}

// Process exit codes for a set of invocations.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitInfra   = 2
	ExitTimeout = 3
)

// ExitCode folds a set of invocations into one process exit code. An infra
// error outranks a timeout, which outranks a failure.
func ExitCode(invs []*model.Invocation) int {
	code := ExitSuccess
	rank := func(c int) int {
		switch c {
		case ExitInfra:
			return 3
		case ExitTimeout:
			return 2
		case ExitFailure:
			return 1
		}
		return 0
	}
	for _, inv := range invs {
		c := outcomeExit(inv.Outcome)
		if rank(c) > rank(code) {
			code = c
		}
	}
	return code
}

func outcomeExit(outcome string) int {
	switch outcome {
	case model.OutcomeSuccess:
		return ExitSuccess
	case model.OutcomeFailure:
		return ExitFailure
	case model.OutcomeTimeout:
		return ExitTimeout
	}
	return ExitInfra
}
