package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/report"
	"github.com/seantiz/testrig/internal/store"
)

// Request describes one test invocation to run.
type Request struct {
	Target   model.Target       `json:"target"`
	Executor model.ExecutorSpec `json:"executor"`

	// Command is the test binary followed by its fixed arguments.
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`

	// Env holds target-level environment overrides. Neither Env nor Args is
	// persisted.
	Env map[string]string `json:"env,omitempty"`

	// Args are the arguments forwarded verbatim to the executor.
	Args []string `json:"args,omitempty"`

	// TimeoutS is the deadline used when Args do not set one.
	TimeoutS int `json:"timeout_s,omitempty"`
}

// Engine orchestrates test invocations.
type Engine struct {
	store    store.Store
	registry *executor.Registry
	logger   *slog.Logger
	broker   *LogBroker
	wg       sync.WaitGroup

	// running maps invocation IDs to the cancel func of their context.
	running *xsync.Map[string, context.CancelFunc]
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, reg *executor.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		logger:   logger,
		broker:   NewLogBroker(),
		running:  xsync.NewMap[string, context.CancelFunc](),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

func newInvocation(req Request) *model.Invocation {
	inv := &model.Invocation{
		ID:        model.NewID(),
		Target:    req.Target.Normalize(),
		Executor:  req.Executor.String(),
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if req.TimeoutS > 0 {
		t := req.TimeoutS
		inv.TimeoutS = &t
	}
	return inv
}

// Run executes req and blocks until the invocation reaches a terminal state.
// The returned invocation carries the outcome; a non-nil error means the
// invocation could not be recorded at all.
func (e *Engine) Run(ctx context.Context, req Request) (*model.Invocation, error) {
	inv := newInvocation(req)
	if err := e.store.CreateInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invocation: %w", err)
	}
	return e.execute(ctx, inv, req), nil
}

// Submit records req as a pending invocation and runs it in the background.
// The returned invocation is the pending record; the goroutine works on its
// own copy.
func (e *Engine) Submit(ctx context.Context, req Request) (*model.Invocation, error) {
	inv := newInvocation(req)
	if err := e.store.CreateInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invocation: %w", err)
	}

	invCopy := *inv
	e.wg.Go(func() {
		e.execute(context.Background(), &invCopy, req)
	})

	return inv, nil
}

// RunAll executes the requests with at most parallelism running at once and
// returns their invocations in request order. One test failing does not stop
// the others; an error is returned only if some invocation could not be
// recorded.
func (e *Engine) RunAll(ctx context.Context, reqs []Request, parallelism int) ([]*model.Invocation, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	invs := make([]*model.Invocation, len(reqs))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			inv, err := e.Run(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", req.Target, err)
			}
			invs[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return invs, err
	}
	return invs, nil
}

// Cancel stops a running invocation. It reports whether the invocation was
// running.
func (e *Engine) Cancel(id string) bool {
	cancel, ok := e.running.LoadAndDelete(id)
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll stops every running invocation and returns how many there were.
func (e *Engine) CancelAll() int {
	n := 0
	e.running.Range(func(id string, _ context.CancelFunc) bool {
		if e.Cancel(id) {
			n++
		}
		return true
	})
	return n
}

// Running returns how many invocations are executing right now.
func (e *Engine) Running() int {
	return e.running.Size()
}

// Wait blocks until all background invocations complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute drives inv from pending to a terminal state and returns the final
// record.
func (e *Engine) execute(ctx context.Context, inv *model.Invocation, req Request) *model.Invocation {
	defer e.broker.Close(inv.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.running.Store(inv.ID, cancel)
	defer e.running.Delete(inv.ID)

	ex, name, err := e.registry.Resolve(req.Executor)
	if name != "" {
		inv.Executor = name
	}
	if err != nil {
		e.logger.Warn("executor resolution failed", "invocation_id", inv.ID, "executor", req.Executor.String(), "error", err)
		return e.finish(inv, nil, executor.Result{}, err)
	}

	if err := e.store.UpdateInvocationStatus(runCtx, inv.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "invocation_id", inv.ID, "error", err)
		return e.finish(inv, nil, executor.Result{}, fmt.Errorf("start invocation: %w", err))
	}
	start := time.Now().UTC()
	inv.Status = model.StatusRunning
	inv.StartedAt = &start

	activeInvocations.Inc()
	defer activeInvocations.Dec()

	// The LogWriter dual-writes: persist for history, then publish for live
	// SSE subscribers.
	var seq atomic.Int32
	spec := executor.Spec{
		ID:       inv.ID,
		Target:   string(inv.Target),
		Command:  req.Command,
		Dir:      req.Dir,
		Env:      req.Env,
		Args:     req.Args,
		TimeoutS: req.TimeoutS,
		LogWriter: func(stream, line string) {
			n := int(seq.Add(1) - 1)
			if err := e.store.InsertLogLine(context.Background(), inv.ID, n, stream, line); err != nil {
				e.logger.Error("failed to persist log line", "invocation_id", inv.ID, "seq", n, "error", err)
			}
			e.broker.Publish(inv.ID, model.LogLine{
				InvocationID: inv.ID,
				Seq:          n,
				Stream:       stream,
				Line:         line,
				CreatedAt:    time.Now().UTC(),
			})
		},
	}

	e.logger.Info("invocation started", "invocation_id", inv.ID, "target", inv.Target, "executor", name)
	res, err := ex.Execute(runCtx, spec)

	if errors.Is(runCtx.Err(), context.Canceled) {
		if cerr := ex.Cleanup(context.Background(), inv.ID); cerr != nil {
			e.logger.Warn("executor cleanup failed", "invocation_id", inv.ID, "error", cerr)
		}
	}

	return e.finish(inv, &start, res, err)
}

// finish classifies the result, persists the terminal record and records
// metrics. startedAt is nil when the test never started.
func (e *Engine) finish(inv *model.Invocation, startedAt *time.Time, res executor.Result, execErr error) *model.Invocation {
	verdict := report.Classify(inv.Target, res, execErr)
	verdict.Apply(inv)

	now := time.Now().UTC()
	inv.FinishedAt = &now

	if startedAt != nil {
		dur := res.Duration
		if dur <= 0 {
			dur = now.Sub(*startedAt)
		}
		ms := int(dur.Milliseconds())
		inv.DurationMS = &ms
		inv.Stdout = res.Stdout
		inv.Stderr = res.Stderr
		if res.Timeout > 0 {
			t := int(res.Timeout / time.Second)
			inv.TimeoutS = &t
		}
		if res.State == model.StatusCompleted {
			code := res.ExitCode
			inv.ExitCode = &code
		}
		invocationDuration.WithLabelValues(inv.Executor).Observe(dur.Seconds())
	}
	invocationsTotal.WithLabelValues(inv.Executor, inv.Outcome).Inc()

	if err := e.store.UpdateInvocation(context.Background(), inv); err != nil {
		e.logger.Error("failed to persist invocation result", "invocation_id", inv.ID, "error", err)
		if inv.Outcome != model.OutcomeInfraError {
			report.Verdict{
				Outcome:   model.OutcomeInfraError,
				ErrorKind: model.ErrorKindInfra,
				Status:    model.StatusErrored,
				Message:   report.ErrorPrefix + "persist result: " + err.Error(),
			}.Apply(inv)
		}
	}

	e.logger.Info("invocation finished",
		"invocation_id", inv.ID,
		"target", inv.Target,
		"outcome", inv.Outcome,
		"status", inv.Status,
	)
	return inv
}
