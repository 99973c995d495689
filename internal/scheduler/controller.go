package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

var (
	// ErrNilWork is returned for a Submit call without work.
	ErrNilWork = errors.New("nil work submitted")
	// ErrWorkPanicked wraps a recovered panic from a work item.
	ErrWorkPanicked = errors.New("work panicked")
)

// Work is one unit of schedulable work. ctx is cancelled when the generation
// the work belongs to is aborted; honoring it is voluntary.
type Work func(ctx context.Context) error

// State is a consistent snapshot of the controller.
type State struct {
	MaxConcurrency int    `json:"max_concurrency"`
	Active         int    `json:"active"`
	Queued         int    `json:"queued"`
	Paused         bool   `json:"paused"`
	Generation     uint64 `json:"generation"`
}

// Observer receives the controller state after each transition. It is called
// with the controller lock held and must not call back into the controller.
type Observer interface {
	ObserveState(state State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers a state observer.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		c.observer = observer
	}
}

type generation struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
}

func newGeneration(id uint64) *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{id: id, ctx: ctx, cancel: cancel}
}

func (g *generation) tripped() bool {
	return g.ctx.Err() != nil
}

func (g *generation) cancelled() error {
	return fmt.Errorf("generation %d: %w", g.id, audit.ErrCancelled)
}

type entry struct {
	work Work
	fut  *Future
	gen  *generation
}

// Controller runs Work with at most MaxConcurrency items active at once.
type Controller struct {
	mu       sync.Mutex
	max      int
	active   int
	queue    []*entry
	paused   bool
	gen      *generation
	logger   *zap.Logger
	observer Observer
}

// New builds a Controller. A maxConcurrency below one is clamped to one.
func New(maxConcurrency int, opts ...Option) *Controller {
	c := &Controller{max: maxConcurrency}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.max < 1 {
		c.logger.Warn("max concurrency clamped", zap.Int("requested", maxConcurrency), zap.Int("effective", 1))
		c.max = 1
	}
	c.gen = newGeneration(1)
	return c
}

// Scope pins the current cancellation generation.
func (c *Controller) Scope() *Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Scope{c: c, gen: c.gen}
}

// Submit schedules work in the current generation.
func (c *Controller) Submit(work Work) *Future {
	return c.Scope().Submit(work)
}

// Pause stops admissions and automatic dequeues. Running work is unaffected.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.observeLocked()
	c.logger.Info("controller paused", zap.Int("active", c.active), zap.Int("queued", len(c.queue)))
}

// Resume clears the pause flag and starts queued work, in FIFO order, up to
// the free capacity.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	started := c.dispatchLocked()
	c.observeLocked()
	c.logger.Info("controller resumed", zap.Int("started", started), zap.Int("queued", len(c.queue)))
}

// Abort trips the current generation, discards queued work (resolving each
// future with audit.ErrCancelled) and resets the active count. Calling it
// repeatedly leaves the same clean state.
func (c *Controller) Abort() {
	c.mu.Lock()
	old := c.gen
	old.cancel()
	c.gen = newGeneration(old.id + 1)
	pending := c.queue
	c.queue = nil
	c.active = 0
	c.observeLocked()
	c.mu.Unlock()

	for _, e := range pending {
		e.fut.resolve(e.gen.cancelled())
	}
	c.logger.Info("controller aborted",
		zap.Uint64("generation", old.id),
		zap.Int("discarded", len(pending)),
	)
}

// State returns a consistent snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Paused reports whether admissions are paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) submit(gen *generation, work Work) *Future {
	fut := newFuture()
	if work == nil {
		fut.resolve(ErrNilWork)
		return fut
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || gen.tripped() {
		fut.resolve(gen.cancelled())
		return fut
	}
	e := &entry{work: work, fut: fut, gen: gen}
	if c.paused || c.active >= c.max {
		c.queue = append(c.queue, e)
	} else {
		c.startLocked(e)
	}
	c.observeLocked()
	return fut
}

func (c *Controller) startLocked(e *entry) {
	c.active++
	go c.run(e)
}

func (c *Controller) run(e *entry) {
	err := c.execute(e)
	c.complete(e)
	e.fut.resolve(err)
}

func (c *Controller) execute(e *entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("work panicked", zap.Any("panic", rec), zap.Uint64("generation", e.gen.id))
			err = fmt.Errorf("%w: %v", ErrWorkPanicked, rec)
		}
	}()
	return e.work(e.gen.ctx)
}

// complete releases the slot and refills it; both happen under one lock so no
// concurrent completion can observe the gap.
func (c *Controller) complete(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Work from an aborted generation already had its slot reset to zero.
	if e.gen == c.gen && c.active > 0 {
		c.active--
	}
	c.dispatchLocked()
	c.observeLocked()
}

func (c *Controller) dispatchLocked() int {
	started := 0
	for !c.paused && c.active < c.max && len(c.queue) > 0 {
		e := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if e.gen != c.gen || e.gen.tripped() {
			e.fut.resolve(e.gen.cancelled())
			continue
		}
		c.startLocked(e)
		started++
	}
	return started
}

func (c *Controller) stateLocked() State {
	return State{
		MaxConcurrency: c.max,
		Active:         c.active,
		Queued:         len(c.queue),
		Paused:         c.paused,
		Generation:     c.gen.id,
	}
}

func (c *Controller) observeLocked() {
	if c.observer != nil {
		c.observer.ObserveState(c.stateLocked())
	}
}
