package stats

import "github.com/JakeFAU/linkaudit/internal/audit"

// MultiSink fans notifications out to several sinks in order. Nil entries
// are skipped.
type MultiSink []audit.ProgressSink

// OnStatsChanged forwards the snapshot.
func (m MultiSink) OnStatsChanged(snapshot audit.Snapshot) {
	for _, s := range m {
		if s != nil {
			s.OnStatsChanged(snapshot)
		}
	}
}

// OnResult forwards the result to sinks that implement ResultSink.
func (m MultiSink) OnResult(result audit.TaskResult, snapshot audit.Snapshot) {
	for _, s := range m {
		if rs, ok := s.(ResultSink); ok {
			rs.OnResult(result, snapshot)
		}
	}
}
