// Package stats accumulates per-run counters, the unverified and ignored
// lists and the duplicate-URL set, and pushes snapshots to progress sinks.
package stats

import (
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// ResultSink is an optional extension of audit.ProgressSink for sinks that
// also want every finished TaskResult.
type ResultSink interface {
	OnResult(result audit.TaskResult, snapshot audit.Snapshot)
}

// Aggregator is safe for concurrent use. Sinks are invoked outside the state
// lock, so they may call back into Snapshot, but they see snapshots in the
// order the mutations happened. Sinks must not call Discover, Record or Cancel.
type Aggregator struct {
	// notifyMu is held from mutation through sink delivery.
	notifyMu   sync.Mutex
	mu         sync.Mutex
	snap       audit.Snapshot
	urls       map[string]int
	unverified []audit.UnverifiedItem
	ignored    []audit.IgnoredItem
	sink       audit.ProgressSink
}

// New returns an empty Aggregator. sink may be nil.
func New(sink audit.ProgressSink) *Aggregator {
	return &Aggregator{
		urls: make(map[string]int),
		sink: sink,
	}
}

// Discover counts a URL-bearing leaf before its task runs and reports whether
// the URL has been seen before in this run.
func (a *Aggregator) Discover(item audit.WorkItem) bool {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.mu.Lock()
	a.snap.Total++
	a.urls[item.URL]++
	dup := a.urls[item.URL] > 1
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return dup
}

// Record applies a finished result: exactly one outcome counter and the
// processed counter move.
func (a *Aggregator) Record(result audit.TaskResult) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.mu.Lock()
	switch result.Outcome {
	case audit.OutcomeVerified:
		a.snap.Verified++
	case audit.OutcomeUnverified:
		a.snap.Unverified++
		a.unverified = append(a.unverified, audit.UnverifiedItem{
			Title:  result.Item.Title,
			URL:    result.Item.URL,
			Reason: result.Reason,
		})
	case audit.OutcomeIgnored:
		a.snap.Ignored++
		a.ignored = append(a.ignored, audit.IgnoredItem{Title: result.Item.Title, URL: result.Item.URL})
	default:
		a.mu.Unlock()
		return
	}
	a.snap.Processed++
	snap := a.snapshotLocked()
	a.mu.Unlock()

	if rs, ok := a.sink.(ResultSink); ok {
		rs.OnResult(result, snap)
	}
	a.notify(snap)
}

// Cancel counts a discovered leaf whose task was discarded by an abort.
func (a *Aggregator) Cancel(audit.WorkItem) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.mu.Lock()
	a.snap.Cancelled++
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() audit.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Report fills base with the final counters and lists.
func (a *Aggregator) Report(base audit.Report) audit.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	base.Total = a.snap.Total
	base.Verified = a.snap.Verified
	base.Unverified = a.snap.Unverified
	base.Ignored = a.snap.Ignored
	base.Cancelled = a.snap.Cancelled
	base.DuplicateURLs = a.duplicatesLocked()
	base.UnverifiedItems = append(make([]audit.UnverifiedItem, 0, len(a.unverified)), a.unverified...)
	base.IgnoredItems = append(make([]audit.IgnoredItem, 0, len(a.ignored)), a.ignored...)
	return base
}

func (a *Aggregator) snapshotLocked() audit.Snapshot {
	snap := a.snap
	snap.ProgressPercent = progressPercent(snap.Processed, snap.Total)
	return snap
}

func (a *Aggregator) duplicatesLocked() []string {
	dups := make([]string, 0)
	for u, n := range a.urls {
		if n > 1 {
			dups = append(dups, u)
		}
	}
	sort.Strings(dups)
	return dups
}

func (a *Aggregator) notify(snap audit.Snapshot) {
	if a.sink != nil {
		a.sink.OnStatsChanged(snap)
	}
}

func progressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
