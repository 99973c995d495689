package sinks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/progress"
)

// StoreSink persists run progress via an audit.RunStore. Each batch collapses
// into at most one UpdateRun call per run. Terminal statuses are written by
// the auditor itself; the sink only tracks running and paused, and stores
// ignore updates to runs that already finished.
type StoreSink struct {
	store  audit.RunStore
	logger *zap.Logger

	mu       sync.Mutex
	statuses map[[16]byte]audit.RunStatus
}

// NewStoreSink constructs a StoreSink for the provided run store.
func NewStoreSink(store audit.RunStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger, statuses: make(map[[16]byte]audit.RunStatus)}
}

type runDelta struct {
	status audit.RunStatus
	stats  audit.Snapshot
}

// Consume applies the batch in order and writes the resulting state of every
// touched, unfinished run. Store errors are returned verbatim (wrapped).
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	deltas := make(map[[16]byte]*runDelta)
	order := make([][16]byte, 0)

	s.mu.Lock()
	for _, evt := range batch {
		if evt.Stage.Terminal() {
			delete(s.statuses, evt.RunID)
			delete(deltas, evt.RunID)
			continue
		}
		status, known := s.statuses[evt.RunID]
		switch {
		case evt.Stage == progress.StageRunPaused:
			status = audit.RunStatusPaused
		case evt.Stage == progress.StageRunStart, evt.Stage == progress.StageRunResumed, !known:
			status = audit.RunStatusRunning
		}
		s.statuses[evt.RunID] = status
		d, ok := deltas[evt.RunID]
		if !ok {
			d = &runDelta{}
			deltas[evt.RunID] = d
			order = append(order, evt.RunID)
		}
		d.status = status
		d.stats = evt.Stats
	}
	s.mu.Unlock()

	for _, id := range order {
		d, ok := deltas[id]
		if !ok {
			continue
		}
		runID := progress.Event{RunID: id}.RunUUID().String()
		if err := s.store.UpdateRun(ctx, runID, d.status, d.stats, ""); err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
