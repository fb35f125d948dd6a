// Package remote implements an executor that hands invocations to a testrig
// server over HTTP and waits for the outcome.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/report"
	"github.com/seantiz/testrig/internal/supervise"
)

// Name is the default registration name.
const Name = "remote"

const (
	defaultPollInterval = 100 * time.Millisecond
	requestTimeout      = 30 * time.Second
)

// Executor submits invocations to a remote testrig server.
type Executor struct {
	name         string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	logger       *slog.Logger

	// remoteIDs maps local invocation IDs to the server's IDs.
	remoteIDs *xsync.Map[string, string]
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithPollInterval sets how often the server is asked for the invocation
// status.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.pollInterval = d }
}

// WithName sets the name reported in Capabilities.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// New creates a remote executor for the server at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		name:         Name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: requestTimeout},
		pollInterval: defaultPollInterval,
		logger:       logger,
		remoteIDs:    xsync.NewMap[string, string](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ executor.Executor = (*Executor)(nil)

// submitRequest mirrors the server's invocation request body.
type submitRequest struct {
	Target   string            `json:"target"`
	Command  []string          `json:"command"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Args     []string          `json:"args,omitempty"`
	TimeoutS int               `json:"timeout_s,omitempty"`
}

type logHistory struct {
	Lines []struct {
		Stream string `json:"stream"`
		Line   string `json:"line"`
	} `json:"lines"`
}

// Execute submits spec, polls until the remote invocation is terminal, and
// replays its output lines to spec.LogWriter. Cancelling ctx cancels the
// remote invocation.
func (e *Executor) Execute(ctx context.Context, spec executor.Spec) (executor.Result, error) {
	if len(spec.Command) == 0 {
		return executor.Result{State: model.StatusErrored}, &executor.ConfigurationError{Reason: "target has no command"}
	}

	var submitted model.Invocation
	err := e.do(ctx, http.MethodPost, "/v1/invocations", submitRequest{
		Target:   spec.Target,
		Command:  spec.Command,
		Dir:      spec.Dir,
		Env:      spec.Env,
		Args:     spec.Args,
		TimeoutS: spec.TimeoutS,
	}, http.StatusAccepted, &submitted)
	if err != nil {
		return executor.Result{State: model.StatusErrored}, fmt.Errorf("submit to %s: %w", e.baseURL, err)
	}

	rid := submitted.ID
	if spec.ID != "" {
		e.remoteIDs.Store(spec.ID, rid)
		defer e.remoteIDs.Delete(spec.ID)
	}
	e.logger.Debug("submitted remote invocation", "invocation_id", spec.ID, "remote_id", rid, "server", e.baseURL)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelRemote(rid)
			return executor.Result{State: model.StatusErrored}, ctx.Err()
		case <-ticker.C:
		}

		var inv model.Invocation
		if err := e.do(ctx, http.MethodGet, "/v1/invocations/"+rid, nil, http.StatusOK, &inv); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return executor.Result{State: model.StatusErrored}, fmt.Errorf("poll remote invocation %s: %w", rid, err)
		}
		if !model.IsTerminal(inv.Status) {
			continue
		}

		e.replayLogs(ctx, rid, spec.LogWriter)
		return toResult(&inv, spec.Command[0])
	}
}

// toResult maps a terminal remote record onto an executor result. path is the
// test binary, used to rebuild a launch failure.
func toResult(inv *model.Invocation, path string) (executor.Result, error) {
	res := executor.Result{
		State:  inv.Status,
		Stdout: inv.Stdout,
		Stderr: inv.Stderr,
	}
	if inv.ExitCode != nil {
		res.ExitCode = *inv.ExitCode
	} else {
		res.ExitCode = -1
	}
	if inv.TimeoutS != nil {
		res.Timeout = time.Duration(*inv.TimeoutS) * time.Second
	}
	if inv.DurationMS != nil {
		res.Duration = time.Duration(*inv.DurationMS) * time.Millisecond
	}

	if inv.Status != model.StatusErrored {
		return res, nil
	}

	msg := strings.TrimPrefix(inv.Message, report.ErrorPrefix)
	res.Error = msg
	switch inv.ErrorKind {
	case model.ErrorKindConfiguration:
		return res, &executor.ConfigurationError{Reason: "remote: " + msg}
	case model.ErrorKindLaunch:
		cause := strings.TrimPrefix(msg, "launch "+path+": ")
		return res, &supervise.LaunchError{Path: path, Err: errors.New(cause)}
	}
	return res, fmt.Errorf("remote invocation %s: %s", inv.ID, msg)
}

func (e *Executor) replayLogs(ctx context.Context, rid string, w func(stream, line string)) {
	if w == nil {
		return
	}
	var hist logHistory
	if err := e.do(ctx, http.MethodGet, "/v1/invocations/"+rid+"/logs/history", nil, http.StatusOK, &hist); err != nil {
		e.logger.Warn("fetch remote log history", "remote_id", rid, "error", err)
		return
	}
	for _, l := range hist.Lines {
		w(l.Stream, l.Line)
	}
}

func (e *Executor) cancelRemote(rid string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	err := e.do(ctx, http.MethodDelete, "/v1/invocations/"+rid, nil, http.StatusAccepted, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusConflict) {
		e.logger.Warn("cancel remote invocation", "remote_id", rid, "error", err)
	}
}

// Capabilities reports what the remote executor supports.
func (e *Executor) Capabilities() executor.Capabilities {
	return executor.Capabilities{
		Name:        e.name,
		Description: "runs the test on the testrig server at " + e.baseURL,
		Local:       false,
	}
}

// Cleanup cancels the remote invocation if it is still being polled.
func (e *Executor) Cleanup(_ context.Context, invocationID string) error {
	if rid, ok := e.remoteIDs.LoadAndDelete(invocationID); ok {
		e.cancelRemote(rid)
	}
	return nil
}

// statusError is returned for an unexpected HTTP status.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.msg)
}

// do sends a JSON request and decodes a JSON response into out when the
// server answers with want.
func (e *Executor) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &statusError{code: resp.StatusCode, msg: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
