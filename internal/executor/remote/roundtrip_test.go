//go:build unix

package remote_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/testrig/internal/api"
	"github.com/seantiz/testrig/internal/engine"
	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/executor/local"
	"github.com/seantiz/testrig/internal/executor/remote"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/store"
)

// newServer starts an in-process testrig server whose only executor is the
// internal one.
func newServer(t *testing.T, ambient ...string) string {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := discardLogger()
	env := append([]string{"PATH=/usr/bin:/bin"}, ambient...)
	reg := executor.NewRegistry()
	reg.Register(local.Name, local.New(logger,
		local.WithGrace(200*time.Millisecond),
		local.WithAmbientEnv(func() []string { return env }),
	))
	eng := engine.NewEngine(s, reg, logger)
	t.Cleanup(eng.Wait)

	ts := httptest.NewServer(api.NewServer(":0", s, reg, eng, logger).Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

// newClientEngine is the harness side: its default executor is remote.
func newClientEngine(t *testing.T, url string) *engine.Engine {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := executor.NewRegistry()
	reg.Register(remote.Name, newRemote(url))
	reg.SetDefault(remote.Name)
	return engine.NewEngine(s, reg, discardLogger())
}

func TestRoundTripScenarios(t *testing.T) {
	eng := newClientEngine(t, newServer(t, "TEST_VAR=BAD_VALUE"))
	ctx := context.Background()

	inv, err := eng.Run(ctx, engine.Request{Target: "sh_test:test", Command: []string{"sh", "-c", "echo hi; exit 0"}})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, inv.Outcome, inv.Message)
	assert.Equal(t, remote.Name, inv.Executor)

	inv, err = eng.Run(ctx, engine.Request{
		Target:  "sh_test:test_env",
		Command: []string{"sh", "-c", `test "$TEST_VAR" = TEST_VALUE`},
		Args:    []string{"--env", "TEST_VAR=TEST_VALUE"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, inv.Outcome, inv.Message)

	inv, err = eng.Run(ctx, engine.Request{
		Target:  "sh_test:test_timeout",
		Command: []string{"sleep", "30"},
		Args:    []string{"--timeout", "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTimeout, inv.Outcome)
	assert.True(t, strings.HasPrefix(inv.Message, "Timeout: "), inv.Message)

	inv, err = eng.Run(ctx, engine.Request{Target: "sh_test:fail", Command: []string{"sh", "-c", "exit 4"}})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailure, inv.Outcome)
	require.NotNil(t, inv.ExitCode)
	assert.Equal(t, 4, *inv.ExitCode)
}

func TestRoundTripConfigurationError(t *testing.T) {
	eng := newClientEngine(t, newServer(t))

	inv, err := eng.Run(context.Background(), engine.Request{
		Target:  "sh_test:test",
		Command: []string{"true"},
		Args:    []string{"--timeout", "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInfraError, inv.Outcome)
	assert.Equal(t, model.ErrorKindConfiguration, inv.ErrorKind)
}
