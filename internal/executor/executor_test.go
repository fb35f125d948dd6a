package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/model"
)

// mockExecutor is a minimal Executor implementation used to verify the
// interface is implementable and the domain types are usable.
type mockExecutor struct {
	executeFn func(ctx context.Context, spec executor.Spec) (executor.Result, error)
}

func (m *mockExecutor) Execute(ctx context.Context, spec executor.Spec) (executor.Result, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, spec)
	}
	return executor.Result{State: model.StatusCompleted, Stdout: []byte("ok")}, nil
}

func (m *mockExecutor) Capabilities() executor.Capabilities {
	return executor.Capabilities{Name: "mock", Local: true, MaxConcurrency: 4}
}

func (m *mockExecutor) Cleanup(_ context.Context, _ string) error {
	return nil
}

// Compile-time check that mockExecutor satisfies the Executor interface.
var _ executor.Executor = (*mockExecutor)(nil)

func TestExecutorInterface_Implementable(t *testing.T) {
	var e executor.Executor = &mockExecutor{}

	spec := executor.Spec{
		ID:      "test-id",
		Target:  "sh_test:test",
		Command: []string{"sh", "-c", "exit 0"},
	}

	result, err := e.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if string(result.Stdout) != "ok" {
		t.Errorf("expected stdout %q, got %q", "ok", string(result.Stdout))
	}
}

func TestExecuteErrorPath(t *testing.T) {
	expectedErr := errors.New("execution failed")
	e := &mockExecutor{
		executeFn: func(_ context.Context, _ executor.Spec) (executor.Result, error) {
			return executor.Result{}, expectedErr
		},
	}

	_, err := e.Execute(context.Background(), executor.Spec{ID: "err-test"})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := executor.Configf(executor.ErrUnknownExecutor, "executor %q is not registered", "tpx")
	if !strings.Contains(err.Error(), `executor "tpx" is not registered`) {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, executor.ErrUnknownExecutor) {
		t.Error("ConfigurationError should unwrap to its cause")
	}

	bare := &executor.ConfigurationError{Reason: "no command"}
	if bare.Error() != "configuration error: no command" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
