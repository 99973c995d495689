package auditor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/clock/system"
	idgen "github.com/JakeFAU/linkaudit/internal/id/uuid"
	"github.com/JakeFAU/linkaudit/internal/progress"
	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/scheduler"
	"github.com/JakeFAU/linkaudit/internal/verify"
)

// Config controls run behavior.
type Config struct {
	// MaxConcurrency bounds in-flight probes; zero selects a value from the
	// number of CPU cores.
	MaxConcurrency int
	// Topic receives a completion announcement when a Publisher is set.
	Topic string
	// PersistTimeout bounds the final store, export and publish calls.
	PersistTimeout time.Duration
}

// Exporter writes rendered reports somewhere durable.
type Exporter interface {
	Export(ctx context.Context, rep audit.Report) ([]report.Artifact, error)
}

// Dependencies are the optional collaborators of an Auditor. Nil fields
// disable the matching behavior.
type Dependencies struct {
	Store     audit.RunStore
	Emitter   progress.Emitter
	Exporter  Exporter
	Publisher audit.Publisher
	Observer  scheduler.Observer
	Sinks     []audit.ProgressSink
	IDs       audit.IDGenerator
	Clock     audit.Clock
}

// Auditor starts and tracks audit runs.
type Auditor struct {
	verifier *verify.Verifier
	cfg      Config
	deps     Dependencies
	logger   *zap.Logger

	mu      sync.Mutex
	current *Run
}

// New constructs an Auditor.
func New(verifier *verify.Verifier, cfg Config, deps Dependencies, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = scheduler.HeuristicConcurrency(runtime.NumCPU())
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Auditor{verifier: verifier, cfg: cfg, deps: deps, logger: logger}
}

// MaxConcurrency returns the effective per-run concurrency ceiling.
func (a *Auditor) MaxConcurrency() int {
	return a.cfg.MaxConcurrency
}

// RunAudit audits forest and blocks until the report is ready. Cancelling ctx
// aborts the run; the partial report is still returned.
func (a *Auditor) RunAudit(ctx context.Context, forest []*audit.BookmarkNode) (audit.Report, error) {
	run, err := a.Start(ctx, forest)
	if err != nil {
		return audit.Report{}, err
	}
	<-run.Done()
	return run.Result()
}

// AuditSource reads the forest from src and audits it. A source failure is
// fatal and wraps audit.ErrSourceUnavailable; no task is submitted.
func (a *Auditor) AuditSource(ctx context.Context, src audit.BookmarkSource) (audit.Report, error) {
	forest, err := readSource(ctx, src)
	if err != nil {
		return audit.Report{}, err
	}
	return a.RunAudit(ctx, forest)
}

// StartSource reads the forest from src and starts a run over it.
func (a *Auditor) StartSource(ctx context.Context, src audit.BookmarkSource) (*Run, error) {
	forest, err := readSource(ctx, src)
	if err != nil {
		return nil, err
	}
	return a.Start(ctx, forest)
}

// Start begins a run in the background. The run lives until it finishes or
// ctx is cancelled, which aborts it. Any previous run is aborted first.
func (a *Auditor) Start(ctx context.Context, forest []*audit.BookmarkNode) (*Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev := a.current; prev != nil && !prev.Finished() {
		a.logger.Info("aborting previous run", zap.String("run_id", prev.ID()))
		prev.Abort()
	}

	id, err := a.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	runUUID, err := idgen.Parse(id)
	if err != nil {
		return nil, err
	}

	run := a.newRun(id, runUUID)
	if a.deps.Store != nil {
		record := audit.RunRecord{ID: id, Status: audit.RunStatusRunning, StartedAt: run.startedAt}
		if err := a.deps.Store.CreateRun(ctx, record); err != nil {
			return nil, fmt.Errorf("create run %s: %w", id, err)
		}
	}

	a.current = run
	run.reporter.Lifecycle(progress.StageRunStart, audit.Snapshot{}, 0, "")
	a.logger.Info("audit started",
		zap.String("run_id", id),
		zap.Int("max_concurrency", a.cfg.MaxConcurrency),
		zap.Int("roots", len(forest)),
	)

	stop := context.AfterFunc(ctx, run.Abort)
	go func() {
		defer stop()
		run.execute(ctx, forest)
	}()
	return run, nil
}

// Current returns the most recently started run, finished or not.
func (a *Auditor) Current() (*Run, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.current != nil
}

// Active returns the current run if it is still in progress.
func (a *Auditor) Active() (*Run, error) {
	run, ok := a.Current()
	if !ok || run.Finished() {
		return nil, audit.ErrNoActiveRun
	}
	return run, nil
}

func readSource(ctx context.Context, src audit.BookmarkSource) ([]*audit.BookmarkNode, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no source configured", audit.ErrSourceUnavailable)
	}
	forest, err := src.GetTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audit.ErrSourceUnavailable, err)
	}
	return forest, nil
}
