package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists run history.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first. An empty script
	// lists runs of every script.
	ListRuns(ctx context.Context, script string, limit int) ([]Run, error)

	// MarkInterrupted closes runs left "running" by a previous process.
	MarkInterrupted(ctx context.Context) (int64, error)
}

// List limits for ListRuns.
const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// timeFormat is fixed-width so started_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, script, trigger_type, trigger_source, status,
			started_at, completed_at, statements, frames, retries, error_message`

// SQLiteRepository implements Repository on the script_runs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts a new run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	query := `INSERT INTO script_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Script,
		run.TriggerType,
		nullableString(run.TriggerSource),
		string(run.Status),
		run.StartedAt.UTC().Format(timeFormat),
		nullableTime(run.CompletedAt),
		run.Statements,
		run.Frames,
		run.Retries,
		nullableString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun writes the outcome fields of an existing run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE script_runs SET
			status = ?, completed_at = ?, statements = ?, frames = ?,
			retries = ?, error_message = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		nullableTime(run.CompletedAt),
		run.Statements,
		run.Frames,
		run.Retries,
		nullableString(run.ErrorMessage),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM script_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns recent runs, newest first. limit defaults to 10 and is
// capped at 100.
func (r *SQLiteRepository) ListRuns(ctx context.Context, script string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + runColumns + ` FROM script_runs`
	args := []any{}
	if script != "" {
		query += ` WHERE script = ?`
		args = append(args, script)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
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
	return runs, nil
}

// MarkInterrupted fails every run still marked running. Called once at
// startup, before the engine can start a new run.
func (r *SQLiteRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE script_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ?`,
		string(StatusFailed),
		time.Now().UTC().Format(timeFormat),
		"interrupted by engine restart",
		string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("marking interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var run Run
	var status, startedAt string
	var triggerSource, completedAt, errorMessage sql.NullString

	err := scanner.Scan(
		&run.ID,
		&run.Script,
		&run.TriggerType,
		&triggerSource,
		&status,
		&startedAt,
		&completedAt,
		&run.Statements,
		&run.Frames,
		&run.Retries,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if t, parseErr := time.Parse(timeFormat, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(timeFormat, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if triggerSource.Valid {
		run.TriggerSource = &triggerSource.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}
