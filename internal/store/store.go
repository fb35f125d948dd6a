package store

import (
	"context"
	"errors"

	"github.com/seantiz/testrig/internal/model"
)

// ErrInvalidTransition is returned when an invocation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvocationStats holds aggregate execution statistics.
type InvocationStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByOutcome  map[string]int `json:"count_by_outcome"`
	CountByExecutor map[string]int `json:"count_by_executor"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for invocations.
type Store interface {
	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error)
	UpdateInvocationStatus(ctx context.Context, id, status string) error
	UpdateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocationStats(ctx context.Context) (*InvocationStats, error)
	InsertLogLine(ctx context.Context, invocationID string, seq int, stream, line string) error
	GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error)
	Close() error
}
