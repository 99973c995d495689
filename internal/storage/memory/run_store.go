// Package memory provides in-process implementations of the run store and
// blob store for development, tests and one-shot CLI audits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// RunStore keeps run records and reports in maps.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]audit.RunRecord
	reports map[string]audit.Report
	now     func() time.Time
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]audit.RunRecord),
		reports: make(map[string]audit.Report),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run audit.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun changes status and progress. Runs that already reached a
// terminal status are left untouched.
func (s *RunStore) UpdateRun(
	_ context.Context,
	runID string,
	status audit.RunStatus,
	progress audit.Snapshot,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status.Terminal() {
		return nil
	}
	run.Status = status
	run.Progress = progress
	run.ErrorText = errText
	if status.Terminal() {
		run.FinishedAt = pointerTime(s.now())
	}
	s.runs[runID] = run
	return nil
}

// SaveReport stores (or replaces) the final report of a run.
func (s *RunStore) SaveReport(_ context.Context, report audit.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[report.RunID]; !ok {
		return fmt.Errorf("run %s: %w", report.RunID, audit.ErrNotFound)
	}
	s.reports[report.RunID] = report
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (audit.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.RunRecord{}, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	return run, nil
}

// GetReport fetches the report of a finished run.
func (s *RunStore) GetReport(_ context.Context, runID string) (audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[runID]
	if !ok {
		return audit.Report{}, fmt.Errorf("report %s: %w", runID, audit.ErrNotFound)
	}
	return report, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]audit.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]audit.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []audit.RunRecord{}, nil
	}
	runs = runs[max(offset, 0):]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// Ping always succeeds.
func (s *RunStore) Ping(context.Context) error {
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
