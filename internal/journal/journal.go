// Package journal records every supervised server run in the server_runs
// table: when it started, how it ended and why.
//
// The journal is append-only history. Nothing reads it back to restore
// supervisor state after a restart.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how a run ended.
type Outcome string

// Run outcomes.
const (
	// OutcomeRunning marks a run that has not finished yet.
	OutcomeRunning Outcome = "running"

	// OutcomeStopped marks a run ended by Stop, Kill or Abort.
	OutcomeStopped Outcome = "stopped"

	// OutcomeCrashed marks a run whose process exited on its own.
	OutcomeCrashed Outcome = "crashed"

	// OutcomeFailed marks a start that never reached the running state.
	OutcomeFailed Outcome = "failed"
)

// timeFormat is fixed width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("journal: run not found")

// Run is one supervised server run.
type Run struct {
	ID          string     `json:"id"`
	ServerName  string     `json:"server_name"`
	PID         int        `json:"pid,omitempty"`
	Command     string     `json:"command"`
	Outcome     Outcome    `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	StdoutLines int64      `json:"stdout_lines"`
	StderrLines int64      `json:"stderr_lines"`
}

// Duration returns how long the run lasted, or how long it has been
// running so far.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.StoppedAt != nil {
		return r.StoppedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// Completion carries the final state of a run.
type Completion struct {
	Outcome     Outcome
	StoppedAt   time.Time
	ExitCode    *int
	Error       string
	StdoutLines int64
	StderrLines int64
}

// Filter controls which runs List returns.
type Filter struct {
	ServerName string  // optional
	Outcome    Outcome // optional
	Limit      int     // default 50, max 500
	Offset     int
}

// ListResult contains a page of runs, most recent first.
type ListResult struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Repository defines the run journal operations.
type Repository interface {
	Create(ctx context.Context, run *Run) error
	Finish(ctx context.Context, id string, c Completion) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores runs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a run journal over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// NewRunID returns a short unique run identifier.
func NewRunID() string {
	return "run-" + uuid.NewString()[:8]
}

// Create inserts a run. ID, StartedAt and Outcome are filled in if empty.
func (r *SQLiteRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Outcome == "" {
		run.Outcome = OutcomeRunning
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_runs (id, server_name, pid, command, outcome, started_at, stopped_at, exit_code, error, stdout_lines, stderr_lines)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ServerName, nullableInt(run.PID), run.Command, string(run.Outcome),
		formatTime(run.StartedAt), nullableTime(run.StoppedAt), nullableIntPtr(run.ExitCode),
		nullableString(run.Error), run.StdoutLines, run.StderrLines,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Finish records how a run ended.
func (r *SQLiteRepository) Finish(ctx context.Context, id string, c Completion) error {
	if c.StoppedAt.IsZero() {
		c.StoppedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE server_runs
		 SET outcome = ?, stopped_at = ?, exit_code = ?, error = ?, stdout_lines = ?, stderr_lines = ?
		 WHERE id = ?`,
		string(c.Outcome), formatTime(c.StoppedAt), nullableIntPtr(c.ExitCode),
		nullableString(c.Error), c.StdoutLines, c.StderrLines, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const selectColumns = "SELECT id, server_name, pid, command, outcome, started_at, stopped_at, exit_code, error, stdout_lines, stderr_lines FROM server_runs"

// Get returns a single run.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.ServerName != "" {
		conditions = append(conditions, "server_name = ?")
		args = append(args, filter.ServerName)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM server_runs"+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from parameterised conditions
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from parameterised conditions
		selectColumns+where+" ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return &ListResult{Runs: runs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var pid, exitCode sql.NullInt64
	var outcome, startedAt string
	var stoppedAt, errText sql.NullString

	if err := s.Scan(&run.ID, &run.ServerName, &pid, &run.Command, &outcome, &startedAt,
		&stoppedAt, &exitCode, &errText, &run.StdoutLines, &run.StderrLines); err != nil {
		return nil, err
	}

	run.Outcome = Outcome(outcome)
	if pid.Valid {
		run.PID = int(pid.Int64)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if errText.Valid {
		run.Error = errText.String
	}

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	run.StartedAt = t
	if stoppedAt.Valid {
		t, err := time.Parse(timeFormat, stoppedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing stopped_at %q: %w", stoppedAt.String, err)
		}
		run.StoppedAt = &t
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// nullableString returns nil for empty strings so the column stays NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullableIntPtr(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
