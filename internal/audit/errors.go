package audit

import "errors"

var (
	// ErrProtocolIgnored marks a non-http(s) URL. It is a classification, not a failure.
	ErrProtocolIgnored = errors.New("protocol ignored")
	// ErrProbeFailure wraps network, DNS or TLS errors surfaced by a Prober.
	ErrProbeFailure = errors.New("probe failed")
	// ErrTimeout is returned when the fixed verification timeout elapses first.
	ErrTimeout = errors.New("verification timed out")
	// ErrCancelled is returned for work whose cancellation generation was tripped.
	ErrCancelled = errors.New("cancelled")
	// ErrSourceUnavailable is fatal: the bookmark source could not be read.
	ErrSourceUnavailable = errors.New("bookmark source unavailable")
	// ErrNotFound signals that the requested run or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoActiveRun is returned by run-control operations when nothing is running.
	ErrNoActiveRun = errors.New("no active run")
)
