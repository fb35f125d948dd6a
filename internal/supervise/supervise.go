// Package supervise runs a single process under a deadline. It drives the
// pending → running → completed | timed_out | errored lifecycle and, when the
// deadline passes, terminates the whole process group: SIGTERM first, SIGKILL
// once the grace period is spent.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/seantiz/testrig/internal/model"
)

// DefaultGrace is how long a process gets to exit after SIGTERM before it is
// killed.
const DefaultGrace = 2 * time.Second

// LaunchError reports that the process could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Command describes the process to run. Env is the complete environment; it
// is not merged with the supervisor's own.
type Command struct {
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Outcome is the terminal state of one Run.
type Outcome struct {
	// State is one of model.StatusCompleted, StatusTimedOut or StatusErrored.
	State    string
	ExitCode int
	// Err is set for StatusErrored, and for StatusCompleted when the process
	// was terminated by a signal rather than exiting.
	Err      error
	Duration time.Duration
	// Killed reports that SIGTERM was not enough and SIGKILL was sent.
	Killed bool
}

// Supervisor runs commands with deadline enforcement. The zero value uses
// DefaultGrace.
type Supervisor struct {
	Grace time.Duration

	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(from, to string)
}

func (s *Supervisor) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return DefaultGrace
}

func (s *Supervisor) transition(from, to string) {
	if s.OnTransition != nil && model.ValidTransition(from, to) {
		s.OnTransition(from, to)
	}
}

// Run starts c and waits for it to exit, for timeout to elapse, or for ctx to
// be done, whichever comes first. The timeout is measured from process start;
// a timeout <= 0 disables it. A context whose own deadline expires also counts
// as a timeout, while any other cancellation ends the run as errored. In both
// cases the process group is terminated before Run returns.
func (s *Supervisor) Run(ctx context.Context, c Command, timeout time.Duration) Outcome {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	setProcessGroup(cmd)
	// Bound the wait for output copying once the process group is gone; a
	// grandchild that escaped the group could otherwise hold the pipes open.
	cmd.WaitDelay = s.grace()

	if err := ctx.Err(); err != nil {
		s.transition(model.StatusPending, model.StatusErrored)
		return Outcome{State: model.StatusErrored, ExitCode: -1, Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		s.transition(model.StatusPending, model.StatusErrored)
		return Outcome{
			State:    model.StatusErrored,
			ExitCode: -1,
			Err:      &LaunchError{Path: c.Path, Err: err},
		}
	}
	s.transition(model.StatusPending, model.StatusRunning)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		// The leader exited on its own; anything it left running in the
		// group dies with it.
		_ = signalGroup(cmd, sigKill)
		out := exitOutcome(cmd, err)
		out.Duration = time.Since(start)
		s.transition(model.StatusRunning, out.State)
		return out

	case <-deadline:
		killed := s.terminate(cmd, done)
		s.transition(model.StatusRunning, model.StatusTimedOut)
		return Outcome{
			State:    model.StatusTimedOut,
			ExitCode: -1,
			Duration: time.Since(start),
			Killed:   killed,
		}

	case <-ctx.Done():
		killed := s.terminate(cmd, done)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.transition(model.StatusRunning, model.StatusTimedOut)
			return Outcome{
				State:    model.StatusTimedOut,
				ExitCode: -1,
				Duration: time.Since(start),
				Killed:   killed,
			}
		}
		s.transition(model.StatusRunning, model.StatusErrored)
		return Outcome{
			State:    model.StatusErrored,
			ExitCode: -1,
			Err:      ctx.Err(),
			Duration: time.Since(start),
			Killed:   killed,
		}
	}
}

// terminate signals the process group with SIGTERM, escalates to SIGKILL
// after the grace period, and waits for the process to be reaped. It reports
// whether SIGKILL was needed.
func (s *Supervisor) terminate(cmd *exec.Cmd, done <-chan error) bool {
	_ = signalGroup(cmd, sigTerm)

	grace := time.NewTimer(s.grace())
	defer grace.Stop()

	select {
	case <-done:
		// The leader is gone; take out anything it left in the group.
		_ = signalGroup(cmd, sigKill)
		return false
	case <-grace.C:
	}

	_ = signalGroup(cmd, sigKill)
	<-done
	return true
}

// exitOutcome converts the result of cmd.Wait into an Outcome.
func exitOutcome(cmd *exec.Cmd, err error) Outcome {
	if err == nil {
		return Outcome{State: model.StatusCompleted, ExitCode: 0}
	}

	// The process exited but a leftover child kept its output pipes open past
	// WaitDelay. The exit status is still the test's result.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return Outcome{State: model.StatusCompleted, ExitCode: cmd.ProcessState.ExitCode()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == -1 {
			// Killed by a signal nobody in the harness sent.
			return Outcome{State: model.StatusCompleted, ExitCode: code, Err: err}
		}
		return Outcome{State: model.StatusCompleted, ExitCode: code}
	}

	return Outcome{State: model.StatusErrored, ExitCode: -1, Err: fmt.Errorf("wait: %w", err)}
}
