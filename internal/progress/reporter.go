package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Reporter translates one run's stats and results into Events. It satisfies
// audit.ProgressSink and the optional per-result extension used by the stats
// aggregator.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewReporter binds emitter to runID. A nil emitter makes every call a no-op.
func NewReporter(emitter Emitter, runID uuid.UUID) *Reporter {
	return &Reporter{
		emitter: emitter,
		runID:   UUIDToBytes(runID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnStatsChanged emits a STATS event.
func (r *Reporter) OnStatsChanged(snapshot audit.Snapshot) {
	r.emit(Event{Stage: StageStats, Stats: snapshot})
}

// OnResult emits an ITEM_DONE event.
func (r *Reporter) OnResult(result audit.TaskResult, snapshot audit.Snapshot) {
	evt := Event{
		Stage:   StageItemDone,
		URL:     result.Item.URL,
		Title:   result.Item.Title,
		Outcome: result.Outcome,
		Reason:  result.Reason,
		Dur:     result.Duration,
		Stats:   snapshot,
	}
	if result.StatusCode != 0 {
		evt.StatusClass = ClassifyStatus(result.StatusCode)
	}
	r.emit(evt)
}

// Lifecycle emits a run-level stage.
func (r *Reporter) Lifecycle(stage Stage, snapshot audit.Snapshot, dur time.Duration, note string) {
	r.emit(Event{Stage: stage, Stats: snapshot, Dur: dur, Note: note})
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now()
	r.emitter.Emit(evt)
}
