package auditor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/progress"
	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/scheduler"
	"github.com/JakeFAU/linkaudit/internal/stats"
	"github.com/JakeFAU/linkaudit/internal/verify"
	"github.com/JakeFAU/linkaudit/internal/walker"
)

// Run is the control handle of one audit run.
type Run struct {
	id        string
	startedAt time.Time
	a         *Auditor
	ctrl      *scheduler.Controller
	scope     *scheduler.Scope
	agg       *stats.Aggregator
	reporter  *progress.Reporter
	logger    *zap.Logger

	control sync.Mutex
	// finishing is set under control once the walk has returned; later
	// control calls are ignored.
	finishing bool
	aborted   atomic.Bool
	done    chan struct{}

	rep       audit.Report
	artifacts []report.Artifact
	err       error
}

func (a *Auditor) newRun(id string, runUUID uuid.UUID) *Run {
	logger := a.logger.With(zap.String("run_id", id))
	reporter := progress.NewReporter(a.deps.Emitter, runUUID)

	sinks := make(stats.MultiSink, 0, len(a.deps.Sinks)+1)
	sinks = append(sinks, reporter)
	sinks = append(sinks, a.deps.Sinks...)

	opts := []scheduler.Option{scheduler.WithLogger(logger)}
	if a.deps.Observer != nil {
		opts = append(opts, scheduler.WithObserver(a.deps.Observer))
	}
	ctrl := scheduler.New(a.cfg.MaxConcurrency, opts...)
	return &Run{
		id:        id,
		startedAt: a.deps.Clock.Now(),
		a:         a,
		ctrl:      ctrl,
		scope:     ctrl.Scope(),
		agg:       stats.New(sinks),
		reporter:  reporter,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// StartedAt returns the time the run began.
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// Pause stops new probes from starting. In-flight probes finish normally.
func (r *Run) Pause() {
	r.control.Lock()
	defer r.control.Unlock()
	if r.finishing || r.ctrl.Paused() {
		return
	}
	r.ctrl.Pause()
	r.reporter.Lifecycle(progress.StageRunPaused, r.agg.Snapshot(), 0, "")
	r.logger.Info("run paused")
}

// Resume starts queued probes up to the concurrency ceiling.
func (r *Run) Resume() {
	r.control.Lock()
	defer r.control.Unlock()
	if r.finishing || !r.ctrl.Paused() {
		return
	}
	r.ctrl.Resume()
	r.reporter.Lifecycle(progress.StageRunResumed, r.agg.Snapshot(), 0, "")
	r.logger.Info("run resumed")
}

// TogglePause pauses a running run or resumes a paused one.
func (r *Run) TogglePause() {
	if r.ctrl.Paused() {
		r.Resume()
		return
	}
	r.Pause()
}

// Abort cancels every queued probe and signals running probes to stop. The
// run then finishes with status aborted. Repeated calls are harmless.
func (r *Run) Abort() {
	r.control.Lock()
	defer r.control.Unlock()
	if r.finishing {
		return
	}
	if !r.aborted.Swap(true) {
		r.logger.Info("run aborting", zap.Any("state", r.ctrl.State()))
	}
	r.ctrl.Abort()
}

// Snapshot returns the live counters.
func (r *Run) Snapshot() audit.Snapshot {
	return r.agg.Snapshot()
}

// State returns the scheduler state.
func (r *Run) State() scheduler.State {
	return r.ctrl.State()
}

// Paused reports whether the run is paused.
func (r *Run) Paused() bool {
	return r.ctrl.Paused()
}

// Status returns the lifecycle status as seen now.
func (r *Run) Status() audit.RunStatus {
	select {
	case <-r.done:
		return r.rep.Status
	default:
	}
	if r.ctrl.Paused() {
		return audit.RunStatusPaused
	}
	return audit.RunStatusRunning
}

// Done is closed once the report is final.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether Done is closed.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (audit.Report, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return audit.Report{}, fmt.Errorf("wait for run %s: %w", r.id, ctx.Err())
	}
}

// Result returns the final report and any persistence error. Before the run
// finishes it returns a provisional report built from the live counters.
func (r *Run) Result() (audit.Report, error) {
	if !r.Finished() {
		return r.agg.Report(audit.Report{RunID: r.id, Status: r.Status(), StartedAt: r.startedAt}), nil
	}
	return r.rep, r.err
}

// Artifacts returns the exported report locations.
func (r *Run) Artifacts() []report.Artifact {
	if !r.Finished() {
		return nil
	}
	out := make([]report.Artifact, len(r.artifacts))
	copy(out, r.artifacts)
	return out
}

const tracerName = "github.com/JakeFAU/linkaudit/internal/auditor"

func (r *Run) execute(ctx context.Context, forest []*audit.BookmarkNode) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "audit.run",
		trace.WithAttributes(attribute.String("linkaudit.run_id", r.id)))
	defer span.End()

	w := walker.New(func(_ context.Context, item audit.WorkItem) error {
		r.visit(r.scope, item)
		return nil
	}, walker.WithLogger(r.logger))

	walkErr := w.Walk(ctx, forest)
	r.finish(ctx, walkErr, r.seal())
}

// seal stops accepting control calls and reports whether an abort landed
// before the walk returned.
func (r *Run) seal() bool {
	r.control.Lock()
	defer r.control.Unlock()
	r.finishing = true
	return r.aborted.Load()
}

// visit handles one leaf. It returns once the leaf has an outcome or has been
// cancelled, so the walk only completes after every submitted task resolves.
func (r *Run) visit(scope *scheduler.Scope, item audit.WorkItem) {
	if dup := r.agg.Discover(item); dup {
		r.logger.Debug("duplicate url", zap.String("url", item.URL))
	}
	if scheme, ok := verify.Classify(item.URL); !ok {
		if scope.Cancelled() {
			r.agg.Cancel(item)
			return
		}
		r.agg.Record(audit.Ignored(item, scheme))
		return
	}

	var result audit.TaskResult
	fut := scope.Submit(func(ctx context.Context) error {
		res, err := r.a.verifier.Verify(ctx, item)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	<-fut.Done()

	switch err := fut.Err(); {
	case err == nil:
		r.agg.Record(result)
	case errors.Is(err, audit.ErrCancelled):
		r.agg.Cancel(item)
	default:
		r.logger.Warn("verification failed", zap.String("url", item.URL), zap.Error(err))
		r.agg.Record(audit.Unverified(item, err.Error()))
	}
}

func (r *Run) finish(ctx context.Context, walkErr error, aborted bool) {
	status := audit.RunStatusCompleted
	stage := progress.StageRunDone
	var errText string
	switch {
	case aborted:
		status = audit.RunStatusAborted
		stage = progress.StageRunAborted
	case walkErr != nil:
		status = audit.RunStatusFailed
		stage = progress.StageRunError
		errText = walkErr.Error()
	}

	finishedAt := r.a.deps.Clock.Now()
	rep := r.agg.Report(audit.Report{
		RunID:      r.id,
		Status:     status,
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
	})
	snap := r.agg.Snapshot()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.a.cfg.PersistTimeout)
	defer cancel()
	var errs []error
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	if err := r.persist(persistCtx, rep, snap, errText); err != nil {
		errs = append(errs, err)
	}
	artifacts := r.export(persistCtx, rep)
	r.announce(persistCtx, rep, artifacts)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("linkaudit.status", string(status)),
		attribute.Int("linkaudit.total", rep.Total),
		attribute.Int("linkaudit.unverified", rep.Unverified),
	)
	if status == audit.RunStatusFailed {
		span.SetStatus(codes.Error, errText)
	}

	dur := finishedAt.Sub(r.startedAt)
	r.reporter.Lifecycle(stage, snap, dur, errText)
	r.logger.Info("audit finished",
		zap.String("status", string(status)),
		zap.Int("total", rep.Total),
		zap.Int("verified", rep.Verified),
		zap.Int("unverified", rep.Unverified),
		zap.Int("ignored", rep.Ignored),
		zap.Int("cancelled", rep.Cancelled),
		zap.Int("duplicates", len(rep.DuplicateURLs)),
		zap.Duration("duration", dur),
	)

	r.rep = rep
	r.artifacts = artifacts
	r.err = errors.Join(errs...)
	close(r.done)
}

func (r *Run) persist(ctx context.Context, rep audit.Report, snap audit.Snapshot, errText string) error {
	store := r.a.deps.Store
	if store == nil {
		return nil
	}
	if err := store.SaveReport(ctx, rep); err != nil {
		r.logger.Error("save report failed", zap.Error(err))
		return fmt.Errorf("save report %s: %w", r.id, err)
	}
	if err := store.UpdateRun(ctx, r.id, rep.Status, snap, errText); err != nil {
		r.logger.Error("final run update failed", zap.Error(err))
		return fmt.Errorf("update run %s: %w", r.id, err)
	}
	return nil
}

func (r *Run) export(ctx context.Context, rep audit.Report) []report.Artifact {
	if r.a.deps.Exporter == nil {
		return nil
	}
	artifacts, err := r.a.deps.Exporter.Export(ctx, rep)
	if err != nil {
		r.logger.Warn("report export failed", zap.Error(err))
	}
	return artifacts
}

func (r *Run) announce(ctx context.Context, rep audit.Report, artifacts []report.Artifact) {
	if r.a.deps.Publisher == nil || r.a.cfg.Topic == "" {
		return
	}
	msgID, err := r.a.deps.Publisher.Publish(ctx, r.a.cfg.Topic, newAnnouncement(rep, artifacts))
	if err != nil {
		r.logger.Warn("publish completion failed", zap.String("topic", r.a.cfg.Topic), zap.Error(err))
		return
	}
	r.logger.Debug("completion published", zap.String("topic", r.a.cfg.Topic), zap.String("message_id", msgID))
}
