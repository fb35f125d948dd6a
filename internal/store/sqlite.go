package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/testrig/internal/model"

	_ "modernc.org/sqlite"
)

const createInvocationsTable = `
CREATE TABLE IF NOT EXISTS invocations (
    id          TEXT PRIMARY KEY,
    target      TEXT NOT NULL,
    executor    TEXT NOT NULL,
    status      TEXT NOT NULL,
    outcome     TEXT NOT NULL DEFAULT '',
    error_kind  TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    exit_code   INTEGER,
    stdout      BLOB,
    stderr      BLOB,
    timeout_s   INTEGER,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id),
    seq           INTEGER NOT NULL,
    stream        TEXT NOT NULL,
    line          TEXT NOT NULL,
    created_at    DATETIME NOT NULL,
    UNIQUE (invocation_id, seq)
)`

const invocationColumns = `id, target, executor, status, outcome, error_kind, message,
	exit_code, stdout, stderr, timeout_s, duration_ms,
	created_at, started_at, finished_at`

// ErrNotFound is returned when an invocation is not found.
var ErrNotFound = errors.New("invocation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// ":memory:" gives a private database that lives as long as the store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createInvocationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create invocations table: %w", err)
	}

	if _, err := db.Exec(createLogLinesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create log_lines table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(r rowScanner) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var target string
	err := r.Scan(
		&inv.ID, &target, &inv.Executor, &inv.Status, &inv.Outcome, &inv.ErrorKind, &inv.Message,
		&inv.ExitCode, &inv.Stdout, &inv.Stderr, &inv.TimeoutS, &inv.DurationMS,
		&inv.CreatedAt, &inv.StartedAt, &inv.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Target = model.Target(target)
	return inv, nil
}

// CreateInvocation inserts a new invocation record.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, string(inv.Target), inv.Executor, inv.Status, inv.Outcome, inv.ErrorKind, inv.Message,
		inv.ExitCode, inv.Stdout, inv.Stderr, inv.TimeoutS, inv.DurationMS,
		inv.CreatedAt, inv.StartedAt, inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// GetInvocation retrieves an invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns a paginated list of invocations ordered by
// created_at DESC, along with the total count of all invocations.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invocations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invs []*model.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invocation: %w", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invocations: %w", err)
	}

	return invs, total, nil
}

// currentStatus reads the status of an invocation inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM invocations WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// UpdateInvocationStatus moves an invocation to status. Entering running sets
// started_at; entering a terminal status sets finished_at.
func (s *SQLiteStore) UpdateInvocationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, started_at = ? WHERE id = ?",
			status, now, id,
		)
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, finished_at = ? WHERE id = ?",
			status, now, id,
		)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update invocation status: %w", err)
	}

	return tx.Commit()
}

// UpdateInvocation overwrites the mutable fields of an invocation. A status
// change must be a valid transition.
func (s *SQLiteStore) UpdateInvocation(ctx context.Context, inv *model.Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, inv.ID)
	if err != nil {
		return err
	}
	if from != inv.Status && !model.ValidTransition(from, inv.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, inv.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invocations SET
			executor = ?, status = ?, outcome = ?, error_kind = ?, message = ?,
			exit_code = ?, stdout = ?, stderr = ?, timeout_s = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		inv.Executor, inv.Status, inv.Outcome, inv.ErrorKind, inv.Message,
		inv.ExitCode, inv.Stdout, inv.Stderr, inv.TimeoutS, inv.DurationMS,
		inv.StartedAt, inv.FinishedAt,
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update invocation: %w", err)
	}

	return tx.Commit()
}

// GetInvocationStats aggregates counts and the mean duration of finished
// invocations.
func (s *SQLiteStore) GetInvocationStats(ctx context.Context) (*InvocationStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &InvocationStats{}
	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM invocations",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count invocations: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if stats.CountByStatus, err = countBy(ctx, tx, "status"); err != nil {
		return nil, err
	}
	if stats.CountByOutcome, err = countBy(ctx, tx, "outcome"); err != nil {
		return nil, err
	}
	if stats.CountByExecutor, err = countBy(ctx, tx, "executor"); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy groups invocations by column. column is always a constant.
func countBy(ctx context.Context, tx *sql.Tx, column string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM invocations WHERE "+column+" != '' GROUP BY "+column,
	)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return counts, nil
}

// InsertLogLine appends one captured output line.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, invocationID string, seq int, stream, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_lines (invocation_id, seq, stream, line, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		invocationID, seq, stream, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns the captured lines of an invocation in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, seq, stream, line, created_at
		FROM log_lines WHERE invocation_id = ? ORDER BY seq ASC`, invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []model.LogLine
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.InvocationID, &l.Seq, &l.Stream, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
