// Package scheduler implements the bounded-concurrency controller that admits,
// queues, pauses, resumes and aborts units of verification work.
//
// Every Controller owns its own state (active count, FIFO queue, pause flag
// and cancellation generation); nothing is shared through package globals, so
// sequential or overlapping audit runs cannot interfere with one another.
//
// Cancellation is cooperative and generation based. Abort bumps the
// generation, cancels the context handed to running work of the old
// generation, and resolves queued futures with audit.ErrCancelled without
// running them. A Scope pins the generation that was current when it was
// taken; submissions through a stale Scope fail immediately.
package scheduler
