package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunPaused  Stage = "RUN_PAUSED"
	StageRunResumed Stage = "RUN_RESUMED"
	StageStats      Stage = "STATS"
	StageItemDone   Stage = "ITEM_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunAborted Stage = "RUN_ABORTED"
	StageRunError   Stage = "RUN_ERROR"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunAborted || s == StageRunError
}

// Lifecycle reports whether the stage marks a run-level transition rather
// than item progress.
func (s Stage) Lifecycle() bool {
	switch s {
	case StageRunStart, StageRunPaused, StageRunResumed:
		return true
	default:
		return s.Terminal()
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for item completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of audit progress.
type Event struct {
	// RunID uniquely identifies an audit run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// URL and Title describe the bookmark for ITEM_DONE events.
	URL   string
	Title string
	// Outcome and Reason carry the verification result for ITEM_DONE events.
	Outcome audit.Outcome
	Reason  string
	// StatusClass groups the probe's HTTP response code.
	StatusClass StatusClass
	// Dur is the verification latency, or the run wall time for terminal stages.
	Dur time.Duration
	// Stats is the counter snapshot at the time of the event.
	Stats audit.Snapshot
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunPaused, StageRunResumed, StageStats,
		StageRunDone, StageRunAborted, StageRunError:
	case StageItemDone:
		if e.URL == "" {
			return errors.New("item done requires url")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for item events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
