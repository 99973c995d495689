package audit

import (
	"fmt"
	"time"
)

// BookmarkNode is one node of an externally supplied bookmark forest. A node
// with an empty URL is a folder; a node may carry both a URL and children.
type BookmarkNode struct {
	ID       string          `json:"id" yaml:"id"`
	Title    string          `json:"title" yaml:"title"`
	URL      string          `json:"url,omitempty" yaml:"url,omitempty"`
	Children []*BookmarkNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// HasURL reports whether the node is a leaf that needs verification.
func (n *BookmarkNode) HasURL() bool {
	return n != nil && n.URL != ""
}

// WorkItem is the unit of verification derived from a URL-bearing node.
type WorkItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Outcome classifies a finished verification task.
type Outcome string

// Task outcomes.
const (
	OutcomeVerified   Outcome = "verified"
	OutcomeUnverified Outcome = "unverified"
	OutcomeIgnored    Outcome = "ignored"
)

// ReasonTimeout is the unverified reason recorded when the probe loses the
// race against the fixed timer.
const ReasonTimeout = "timeout"

// TaskResult is the tagged outcome of verifying a single WorkItem.
type TaskResult struct {
	Item       WorkItem      `json:"item"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Scheme     string        `json:"scheme,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Verified builds a verified result.
func Verified(item WorkItem, status int) TaskResult {
	return TaskResult{Item: item, Outcome: OutcomeVerified, StatusCode: status}
}

// Unverified builds an unverified result carrying the reason.
func Unverified(item WorkItem, reason string) TaskResult {
	return TaskResult{Item: item, Outcome: OutcomeUnverified, Reason: reason}
}

// Ignored builds an ignored result for a non-HTTP scheme.
func Ignored(item WorkItem, scheme string) TaskResult {
	return TaskResult{Item: item, Outcome: OutcomeIgnored, Scheme: scheme}
}

// Err maps the outcome onto the error taxonomy: nil for verified items,
// ErrProtocolIgnored, ErrTimeout or ErrProbeFailure otherwise.
func (r TaskResult) Err() error {
	switch r.Outcome {
	case OutcomeVerified:
		return nil
	case OutcomeIgnored:
		return fmt.Errorf("scheme %q: %w", r.Scheme, ErrProtocolIgnored)
	}
	if r.Reason == ReasonTimeout {
		return fmt.Errorf("%s: %w", r.Item.URL, ErrTimeout)
	}
	return fmt.Errorf("%s: %s: %w", r.Item.URL, r.Reason, ErrProbeFailure)
}

// ProbeResult is what a Prober reports for one URL.
type ProbeResult struct {
	Reachable    bool
	StatusCode   int
	ErrorMessage string
}

// Snapshot is a read-only view of the run counters.
type Snapshot struct {
	Total           int `json:"total"`
	Verified        int `json:"verified"`
	Unverified      int `json:"unverified"`
	Ignored         int `json:"ignored"`
	Processed       int `json:"processed"`
	Cancelled       int `json:"cancelled"`
	ProgressPercent int `json:"progress_percent"`
}

// UnverifiedItem is one entry of the report's unverified list.
type UnverifiedItem struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// IgnoredItem is one entry of the report's ignored list.
type IgnoredItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RunStatus is the lifecycle state of an audit run.
type RunStatus string

// Run status values persisted by the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusAborted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Report is the final result of an audit run.
type Report struct {
	RunID           string           `json:"run_id"`
	Status          RunStatus        `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Total           int              `json:"total"`
	Verified        int              `json:"verified"`
	Unverified      int              `json:"unverified"`
	Ignored         int              `json:"ignored"`
	Cancelled       int              `json:"cancelled"`
	DuplicateURLs   []string         `json:"duplicate_urls"`
	UnverifiedItems []UnverifiedItem `json:"unverified_items"`
	IgnoredItems    []IgnoredItem    `json:"ignored_items"`
}

// Processed returns the number of leaves that reached an outcome.
func (r Report) Processed() int {
	return r.Verified + r.Unverified + r.Ignored
}

// RunRecord is the persisted, progress-bearing view of a run.
type RunRecord struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	Progress   Snapshot   `json:"progress"`
}
