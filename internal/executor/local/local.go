// Package local implements the internal executor: it runs the test binary as
// a child process of the harness, applies environment overrides, and enforces
// the deadline through the supervise package.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/seantiz/testrig/internal/environ"
	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/supervise"
)

// Name is the name used when registering with the executor registry.
const Name = executor.InternalName

// DefaultTimeout applies when neither the forwarded arguments nor the target
// set a deadline.
const DefaultTimeout = 10 * time.Minute

// Executor runs tests as local child processes.
type Executor struct {
	grace   time.Duration
	ambient func() []string
	logger  *slog.Logger

	// active maps invocation IDs to the cancel func of their run.
	active *xsync.Map[string, context.CancelFunc]
}

// Option configures an Executor.
type Option func(*Executor)

// WithGrace sets how long a timed-out process gets between SIGTERM and SIGKILL.
func WithGrace(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithAmbientEnv replaces os.Environ as the source of the ambient environment.
func WithAmbientEnv(fn func() []string) Option {
	return func(e *Executor) { e.ambient = fn }
}

// New creates an internal executor.
func New(logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		grace:   supervise.DefaultGrace,
		ambient: os.Environ,
		logger:  logger,
		active:  xsync.NewMap[string, context.CancelFunc](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ executor.Executor = (*Executor)(nil)

// Execute runs spec.Command with spec.Args interpreted by ParseArgs.
//
// Environment precedence, lowest to highest: ambient, spec.Env, --env flags,
// harness-reserved variables. Overrides naming a reserved variable are
// rejected with a ConfigurationError.
func (e *Executor) Execute(ctx context.Context, spec executor.Spec) (executor.Result, error) {
	if len(spec.Command) == 0 {
		return executor.Result{State: model.StatusErrored}, &executor.ConfigurationError{Reason: "target has no command"}
	}

	opts, err := ParseArgs(spec.Args)
	if err != nil {
		return executor.Result{State: model.StatusErrored}, executor.Configf(err, "internal executor arguments")
	}

	overrides := environ.Layer(spec.Env, opts.Env)
	if err := environ.CheckReserved(overrides); err != nil {
		return executor.Result{State: model.StatusErrored}, executor.Configf(err, "environment override")
	}
	env := environ.Merge(e.ambient(), environ.Layer(overrides, map[string]string{
		environ.VarInvocationID: spec.ID,
		environ.VarTarget:       spec.Target,
	}))

	timeout := opts.Timeout
	if timeout == 0 && spec.TimeoutS > 0 {
		timeout = time.Duration(spec.TimeoutS) * time.Second
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	emit := func(stream string) func(string) {
		if spec.LogWriter == nil {
			return nil
		}
		return func(line string) { spec.LogWriter(stream, line) }
	}
	stdout := newLineCapture(emit(model.StreamStdout))
	stderr := newLineCapture(emit(model.StreamStderr))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if spec.ID != "" {
		e.active.Store(spec.ID, cancel)
		defer e.active.Delete(spec.ID)
	}

	args := append(append([]string{}, spec.Command[1:]...), opts.Extra...)

	e.logger.Debug("starting test process",
		"invocation_id", spec.ID,
		"target", spec.Target,
		"command", spec.Command[0],
		"timeout", timeout.String(),
	)

	sup := &supervise.Supervisor{Grace: e.grace}
	out := sup.Run(runCtx, supervise.Command{
		Path:   spec.Command[0],
		Args:   args,
		Dir:    spec.Dir,
		Env:    env,
		Stdout: stdout,
		Stderr: stderr,
	}, timeout)

	stdout.Flush()
	stderr.Flush()

	result := executor.Result{
		State:    out.State,
		ExitCode: out.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Timeout:  timeout,
		Duration: out.Duration,
	}
	if out.Err != nil {
		result.Error = out.Err.Error()
	}

	e.logger.Debug("test process finished",
		"invocation_id", spec.ID,
		"state", out.State,
		"exit_code", out.ExitCode,
		"killed", out.Killed,
		"duration_ms", out.Duration.Milliseconds(),
	)

	if out.State == model.StatusErrored {
		var launchErr *supervise.LaunchError
		if errors.As(out.Err, &launchErr) {
			return result, launchErr
		}
		return result, fmt.Errorf("run %s: %w", spec.Target, out.Err)
	}
	return result, nil
}

// Capabilities reports what the internal executor supports.
func (e *Executor) Capabilities() executor.Capabilities {
	return executor.Capabilities{
		Name:           Name,
		Description:    "runs the test binary as a child process of the harness",
		Local:          true,
		MaxConcurrency: runtime.NumCPU(),
	}
}

// Cleanup terminates the invocation if it is still running.
func (e *Executor) Cleanup(_ context.Context, invocationID string) error {
	if cancel, ok := e.active.LoadAndDelete(invocationID); ok {
		cancel()
	}
	return nil
}
