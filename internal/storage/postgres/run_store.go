// Package postgres provides a Postgres-backed audit.RunStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RunsTable       string
	ReportsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RunStore persists runs and reports in Postgres.
type RunStore struct {
	pool    pool
	runs    string
	reports string
	now     func() time.Time
}

// NewRunStore connects a pgx pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.RunsTable, cfg.ReportsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, runsTable, reportsTable string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if runsTable == "" {
		runsTable = "audit_runs"
	}
	if reportsTable == "" {
		reportsTable = "audit_reports"
	}
	for _, table := range []string{runsTable, reportsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RunStore{
		pool:    p,
		runs:    runsTable,
		reports: reportsTable,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the tables if they do not exist.
func (s *RunStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	total INTEGER NOT NULL DEFAULT 0,
	verified INTEGER NOT NULL DEFAULT 0,
	unverified INTEGER NOT NULL DEFAULT 0,
	ignored INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	progress_percent INTEGER NOT NULL DEFAULT 0
)`, s.runs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_started_at_idx ON %s (started_at DESC)`, s.runs, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY REFERENCES %s (id) ON DELETE CASCADE,
	report JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, s.reports, s.runs),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a run row.
func (s *RunStore) CreateRun(ctx context.Context, run audit.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	status,
	started_at,
	finished_at,
	error_text,
	total,
	verified,
	unverified,
	ignored,
	processed,
	cancelled,
	progress_percent
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.runs)
	p := run.Progress
	args := []any{
		run.ID,
		string(run.Status),
		run.StartedAt,
		run.FinishedAt,
		run.ErrorText,
		p.Total,
		p.Verified,
		p.Unverified,
		p.Ignored,
		p.Processed,
		p.Cancelled,
		p.ProgressPercent,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
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
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	total = $4,
	verified = $5,
	unverified = $6,
	ignored = $7,
	processed = $8,
	cancelled = $9,
	progress_percent = $10,
	finished_at = COALESCE($11, finished_at)
WHERE id = $1 AND status NOT IN ('completed', 'aborted', 'failed')`, s.runs)
	tag, err := s.pool.Exec(ctx, query,
		runID,
		string(status),
		errText,
		progress.Total,
		progress.Verified,
		progress.Unverified,
		progress.Ignored,
		progress.Processed,
		progress.Cancelled,
		progress.ProgressPercent,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Nothing changed: either the run is finished or it does not exist.
	var exists bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.runs), runID).Scan(&exists)
	if err != nil {
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
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, report, created_at) VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET report = EXCLUDED.report, created_at = EXCLUDED.created_at`, s.reports)
	if _, err := s.pool.Exec(ctx, query, report.RunID, doc, s.now()); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const runColumns = `id, status, started_at, finished_at, error_text, ` +
	`total, verified, unverified, ignored, processed, cancelled, progress_percent`

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (audit.RunRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.runs), runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.RunRecord{}, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.RunRecord{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// GetReport fetches the stored report document.
func (s *RunStore) GetReport(ctx context.Context, runID string) (audit.Report, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT report FROM %s WHERE run_id = $1`, s.reports), runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Report{}, fmt.Errorf("report %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.Report{}, fmt.Errorf("select report: %w", err)
	}
	var report audit.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		return audit.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]audit.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	offset = max(offset, 0)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, runColumns, s.runs),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]audit.RunRecord, 0, limit)
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

func scanRun(row pgx.Row) (audit.RunRecord, error) {
	var (
		run    audit.RunRecord
		status string
	)
	p := &run.Progress
	err := row.Scan(
		&run.ID,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ErrorText,
		&p.Total,
		&p.Verified,
		&p.Unverified,
		&p.Ignored,
		&p.Processed,
		&p.Cancelled,
		&p.ProgressPercent,
	)
	run.Status = audit.RunStatus(status)
	return run, err
}
