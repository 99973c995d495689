package audit

import (
	"context"
	"io"
	"time"
)

// Prober performs one reachability check. Implementations may ignore ctx
// cancellation; the verifier never waits on them past its timeout.
type Prober interface {
	Probe(ctx context.Context, rawURL string) ProbeResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, rawURL string) ProbeResult

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, rawURL string) ProbeResult {
	return f(ctx, rawURL)
}

// BookmarkSource supplies the forest to audit. It is read once per run.
type BookmarkSource interface {
	GetTree(ctx context.Context) ([]*BookmarkNode, error)
}

// ProgressSink is notified after every counter mutation. Implementations must
// tolerate frequent and reentrant calls.
type ProgressSink interface {
	OnStatsChanged(snapshot Snapshot)
}

// ProgressSinkFunc adapts a function to ProgressSink.
type ProgressSinkFunc func(snapshot Snapshot)

// OnStatsChanged calls f.
func (f ProgressSinkFunc) OnStatsChanged(snapshot Snapshot) {
	f(snapshot)
}

// RunStore persists run records and final reports.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, progress Snapshot, errText string) error
	SaveReport(ctx context.Context, report Report) error
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	GetReport(ctx context.Context, runID string) (Report, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces finished runs to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for report artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
