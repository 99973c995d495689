package scheduler

import "context"

// Scope submits work on behalf of one cancellation generation.
type Scope struct {
	c   *Controller
	gen *generation
}

// Submit schedules work. If the scope's generation has been aborted the
// returned future is already resolved with audit.ErrCancelled.
func (s *Scope) Submit(work Work) *Future {
	return s.c.submit(s.gen, work)
}

// Generation returns the pinned generation number.
func (s *Scope) Generation() uint64 {
	return s.gen.id
}

// Context is cancelled when the pinned generation is aborted.
func (s *Scope) Context() context.Context {
	return s.gen.ctx
}

// Cancelled reports whether the pinned generation has been aborted.
func (s *Scope) Cancelled() bool {
	return s.gen.tripped()
}
