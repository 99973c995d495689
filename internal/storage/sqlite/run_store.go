// Package sqlite provides an embedded, file-backed audit.RunStore using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Options configures the database file.
type Options struct {
	// Path is the database file. Its directory is created if missing.
	Path string
	// EnableWAL turns on write-ahead logging.
	EnableWAL bool
}

// RunStore persists runs and reports in a single SQLite file.
type RunStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database and its schema.
func Open(ctx context.Context, opts Options) (*RunStore, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", opts.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &RunStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *RunStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error_text TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0,
		unverified INTEGER NOT NULL DEFAULT 0,
		ignored INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		progress_percent INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_started_at ON audit_runs(started_at);

	CREATE TABLE IF NOT EXISTS audit_reports (
		run_id TEXT PRIMARY KEY REFERENCES audit_runs(id) ON DELETE CASCADE,
		report TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// CreateRun inserts a run row.
func (s *RunStore) CreateRun(ctx context.Context, run audit.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	p := run.Progress
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, status, started_at, finished_at, error_text,
			total, verified, unverified, ignored, processed, cancelled, progress_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt.UTC(), nullTime(run.FinishedAt), run.ErrorText,
		p.Total, p.Verified, p.Unverified, p.Ignored, p.Processed, p.Cancelled, p.ProgressPercent,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun writes status and progress unless the run already finished.
func (s *RunStore) UpdateRun(
	ctx context.Context,
	runID string,
	status audit.RunStatus,
	progress audit.Snapshot,
	errText string,
) error {
	var finishedAt *time.Time
	if status.Terminal() {
		now := s.now()
		finishedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_runs SET
			status = ?, error_text = ?,
			total = ?, verified = ?, unverified = ?, ignored = ?,
			processed = ?, cancelled = ?, progress_percent = ?,
			finished_at = COALESCE(?, finished_at)
		WHERE id = ? AND status NOT IN ('completed', 'aborted', 'failed')`,
		string(status), errText,
		progress.Total, progress.Verified, progress.Unverified, progress.Ignored,
		progress.Processed, progress.Cancelled, progress.ProgressPercent,
		nullTime(finishedAt), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM audit_runs WHERE id = ?)`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	return nil
}

// SaveReport upserts the report document.
func (s *RunStore) SaveReport(ctx context.Context, report audit.Report) error {
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_reports (run_id, report, created_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET report = excluded.report, created_at = excluded.created_at`,
		report.RunID, string(doc), s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const runColumns = `id, status, started_at, finished_at, error_text, ` +
	`total, verified, unverified, ignored, processed, cancelled, progress_percent`

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (audit.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.RunRecord{}, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.RunRecord{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// GetReport fetches the stored report document.
func (s *RunStore) GetReport(ctx context.Context, runID string) (audit.Report, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM audit_reports WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Report{}, fmt.Errorf("report %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.Report{}, fmt.Errorf("select report: %w", err)
	}
	var report audit.Report
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return audit.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]audit.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM audit_runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	runs := make([]audit.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (audit.RunRecord, error) {
	var (
		run      audit.RunRecord
		status   string
		finished sql.NullTime
	)
	p := &run.Progress
	if err := row.Scan(
		&run.ID, &status, &run.StartedAt, &finished, &run.ErrorText,
		&p.Total, &p.Verified, &p.Unverified, &p.Ignored, &p.Processed, &p.Cancelled, &p.ProgressPercent,
	); err != nil {
		return audit.RunRecord{}, err
	}
	run.Status = audit.RunStatus(status)
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	run.StartedAt = run.StartedAt.UTC()
	return run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
