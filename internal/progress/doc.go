// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that audit runs use to report progress. It batches events on a
// background goroutine, collapses redundant stats snapshots, and fans them out
// to pluggable sinks such as Prometheus metrics, logs or the run store.
package progress
