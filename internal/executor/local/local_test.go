//go:build unix

package local_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/testrig/internal/environ"
	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/executor/local"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/supervise"
)

func newExecutor(ambient ...string) *local.Executor {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	base := append([]string{"PATH=/usr/bin:/bin"}, ambient...)
	return local.New(logger,
		local.WithGrace(500*time.Millisecond),
		local.WithAmbientEnv(func() []string { return base }),
	)
}

func shSpec(target, script string, args ...string) executor.Spec {
	return executor.Spec{
		ID:      model.NewID(),
		Target:  target,
		Command: []string{"sh", "-c", script},
		Args:    args,
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := newExecutor()
	res, err := e.Execute(context.Background(), shSpec("sh_test:test", "echo hello"))

	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.State)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, local.DefaultTimeout, res.Timeout)
}

func TestExecuteNonZeroExit(t *testing.T) {
	e := newExecutor()
	res, err := e.Execute(context.Background(), shSpec("sh_test:fail", "echo boom >&2; exit 7"))

	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.State)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "boom\n", string(res.Stderr))
}

func TestExecuteEnvOverrideWinsOverAmbient(t *testing.T) {
	e := newExecutor("TEST_VAR=BAD_VALUE")
	spec := shSpec("sh_test:test_env", `test "$TEST_VAR" = TEST_VALUE`, "--env", "TEST_VAR=TEST_VALUE")

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)
}

func TestExecuteEnvLayering(t *testing.T) {
	e := newExecutor("A=ambient", "B=ambient", "C=ambient")
	spec := shSpec("sh_test:layers", `echo "$A $B $C"`, "--env", "C=flag")
	spec.Env = map[string]string{"B": "target", "C": "target"}

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "ambient target flag\n", string(res.Stdout))
}

func TestExecuteSetsReservedVariables(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:ids", `echo "$TESTRIG_INVOCATION_ID $TESTRIG_TARGET"`)

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, spec.ID+" sh_test:ids\n", string(res.Stdout))
}

func TestExecuteRejectsReservedOverride(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:test", "exit 0", "--env", environ.VarTarget+"=hijack")

	_, err := e.Execute(context.Background(), spec)
	var cfgErr *executor.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "err = %v", err)
	assert.ErrorIs(t, err, environ.ErrReservedName)
}

func TestExecuteBadArgsIsConfigurationError(t *testing.T) {
	e := newExecutor()
	_, err := e.Execute(context.Background(), shSpec("sh_test:test", "exit 0", "--timeout", "never"))

	var cfgErr *executor.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr), "err = %v", err)
}

func TestExecuteNoCommand(t *testing.T) {
	e := newExecutor()
	_, err := e.Execute(context.Background(), executor.Spec{ID: "x", Target: "empty"})

	var cfgErr *executor.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr), "err = %v", err)
}

func TestExecuteTimeout(t *testing.T) {
	e := newExecutor()
	start := time.Now()
	res, err := e.Execute(context.Background(), shSpec("sh_test:test_timeout", "sleep 30", "--timeout", "1"))

	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, res.State)
	assert.Equal(t, time.Second, res.Timeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteTargetTimeoutUsedWithoutFlag(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:slow", "sleep 30")
	spec.TimeoutS = 1

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, res.State)
	assert.Equal(t, time.Second, res.Timeout)
}

func TestExecuteFlagTimeoutBeatsTarget(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:quick", "sleep 0.2", "--timeout", "10")
	spec.TimeoutS = 1

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.State)
	assert.Equal(t, 10*time.Second, res.Timeout)
}

func TestExecuteExtraArgsReachBinary(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:args", `printf '%s|' "$@"`, "--", "a b", "--flag", "$HOME")
	// sh -c uses the first argument after the script as $0.
	spec.Command = append(spec.Command, "argv0")

	res, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "a b|--flag|$HOME|", string(res.Stdout))
}

func TestExecuteLaunchError(t *testing.T) {
	e := newExecutor()
	spec := executor.Spec{ID: "x", Target: "missing", Command: []string{"/does/not/exist"}}

	res, err := e.Execute(context.Background(), spec)
	var launchErr *supervise.LaunchError
	require.True(t, errors.As(err, &launchErr), "err = %v", err)
	assert.Equal(t, model.StatusErrored, res.State)
}

func TestExecuteStreamsLines(t *testing.T) {
	e := newExecutor()
	var mu sync.Mutex
	var got []string
	spec := shSpec("sh_test:logs", "echo out1; echo err1 >&2; echo out2")
	spec.LogWriter = func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, stream+":"+line)
	}

	_, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"stdout:out1", "stdout:out2", "stderr:err1"}, got)
}

func TestCleanupCancelsRunningInvocation(t *testing.T) {
	e := newExecutor()
	spec := shSpec("sh_test:hang", "sleep 30")

	done := make(chan error, 1)
	var res executor.Result
	go func() {
		var err error
		res, err = e.Execute(context.Background(), spec)
		done <- err
	}()

	require.Eventually(t, func() bool {
		_ = e.Cleanup(context.Background(), spec.ID)
		select {
		case err := <-done:
			done <- err
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	assert.Equal(t, model.StatusErrored, res.State)
}

func TestCleanupUnknownIsNoop(t *testing.T) {
	e := newExecutor()
	assert.NoError(t, e.Cleanup(context.Background(), "nope"))
}

func TestCapabilities(t *testing.T) {
	caps := newExecutor().Capabilities()
	assert.Equal(t, local.Name, caps.Name)
	assert.True(t, caps.Local)
	assert.True(t, strings.Contains(caps.Description, "child process"))
}
