// Package server assembles linkaudit's long-lived services from configuration
// and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/api"
	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/auditor"
	"github.com/JakeFAU/linkaudit/internal/clock/system"
	"github.com/JakeFAU/linkaudit/internal/config"
	"github.com/JakeFAU/linkaudit/internal/hash/sha256"
	"github.com/JakeFAU/linkaudit/internal/id/uuid"
	"github.com/JakeFAU/linkaudit/internal/metrics"
	"github.com/JakeFAU/linkaudit/internal/policy/ratelimit"
	"github.com/JakeFAU/linkaudit/internal/prober"
	collyprober "github.com/JakeFAU/linkaudit/internal/prober/colly"
	headlessprober "github.com/JakeFAU/linkaudit/internal/prober/headless"
	"github.com/JakeFAU/linkaudit/internal/progress"
	progresssinks "github.com/JakeFAU/linkaudit/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/linkaudit/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/linkaudit/internal/publisher/pubsub"
	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/source"
	gcsstorage "github.com/JakeFAU/linkaudit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/linkaudit/internal/storage/local"
	memorystorage "github.com/JakeFAU/linkaudit/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkaudit/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/linkaudit/internal/storage/sqlite"
	"github.com/JakeFAU/linkaudit/internal/telemetry"
	"github.com/JakeFAU/linkaudit/internal/verify"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	sinks      []progress.Sink
	prober     audit.Prober
	version    string
}

// WithRegisterer registers progress metrics on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithProgressSink adds a progress sink to the hub.
func WithProgressSink(sink progress.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// WithProber replaces the configured prober chain.
func WithProber(p audit.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithVersion sets the service version reported on spans.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	auditor   *auditor.Auditor
	apiServer *api.Server
	source    audit.BookmarkSource
	store     audit.RunStore
	publisher audit.Publisher

	progressHub    *progress.Hub
	headless       *headlessprober.Prober
	pubsub         *gcppublisher.Publisher
	gcs            *gcsstorage.BlobStore
	sqlite         *sqlitestore.RunStore
	postgres       *pgstore.RunStore
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the application's dependencies. logger must not be nil.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = app.Close(closeCtx)
		}
	}()

	logger.Info("building application dependencies",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    config.AppName,
		ServiceVersion: o.version,
		Exporter:       cfg.Tracing.Exporter,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	exporter, err := app.setupExporter(blobs)
	if err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, o); err != nil {
		return nil, err
	}
	probe, err := app.setupProber(o)
	if err != nil {
		return nil, err
	}
	if err = app.setupSource(); err != nil {
		return nil, err
	}

	verifier := verify.New(probe, verify.Config{Timeout: cfg.Audit.Timeout},
		verify.WithLogger(logger.Named("verify")))
	deps := auditor.Dependencies{
		Store:     app.store,
		Exporter:  exporter,
		Publisher: app.publisher,
		Observer:  metrics.SchedulerObserver{},
		IDs:       uuid.New(),
		Clock:     system.New(),
	}
	if app.progressHub != nil {
		deps.Emitter = app.progressHub
	}
	app.auditor = auditor.New(verifier, auditor.Config{
		MaxConcurrency: cfg.Audit.Concurrency,
		Topic:          cfg.PubSub.Topic,
		PersistTimeout: cfg.Audit.PersistTimeout,
	}, deps, logger.Named("auditor"))
	logger.Info("auditor ready", zap.Int("max_concurrency", app.auditor.MaxConcurrency()))

	app.apiServer = api.NewServer(app.auditor, app.store, app.source, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, logger.Named("api"))
	return app, nil
}

// Auditor returns the run coordinator.
func (a *App) Auditor() *auditor.Auditor {
	return a.auditor
}

// Source returns the configured bookmark source, or nil when none is set.
func (a *App) Source() audit.BookmarkSource {
	return a.source
}

// Store returns the run store.
func (a *App) Store() audit.RunStore {
	return a.store
}

// Publisher returns the completion publisher.
func (a *App) Publisher() audit.Publisher {
	return a.publisher
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server until ctx is cancelled, then aborts any active
// run and shuts down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
			return
		}
		serveErr <- nil
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if run, err := a.auditor.Active(); err == nil {
		run.Abort()
		if _, err := run.Wait(shutdownCtx); err != nil {
			a.logger.Warn("active run did not finish before shutdown", zap.Error(err))
		}
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs: %w", err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) setupStore(ctx context.Context) error {
	db := a.cfg.DB
	switch db.Driver {
	case "sqlite":
		store, err := sqlitestore.Open(ctx, sqlitestore.Options{Path: db.Path, EnableWAL: true})
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.sqlite = store
		a.store = store
		a.logger.Info("using sqlite run store", zap.String("path", db.Path))
	case "postgres":
		store, err := pgstore.NewRunStore(ctx, pgstore.Config{
			DSN:             db.DSN,
			RunsTable:       db.RunsTable,
			ReportsTable:    db.ReportsTable,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.postgres = store
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres run store", zap.String("runs_table", db.RunsTable))
	default:
		a.store = memorystorage.NewRunStore()
		a.logger.Info("using in-memory run store")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (audit.BlobStore, error) {
	st := a.cfg.Storage
	switch st.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:   st.Bucket,
			Prefix:   st.Prefix,
			Endpoint: st.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", st.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: st.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", st.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupExporter(blobs audit.BlobStore) (auditor.Exporter, error) {
	formats, err := a.cfg.ExportFormats()
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		a.logger.Info("report export disabled")
		return nil, nil
	}
	exporter, err := report.NewExporter(blobs, sha256.New(),
		report.WithPrefix(a.cfg.Export.Prefix),
		report.WithFormats(formats...),
		report.WithLogger(a.logger.Named("export")),
	)
	if err != nil {
		return nil, fmt.Errorf("report exporter init failed: %w", err)
	}
	return exporter, nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	ps := a.cfg.PubSub
	if ps.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: ps.ProjectID, Endpoint: ps.Endpoint})
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.Topic),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context, o options) error {
	pc := a.cfg.Progress
	sinkList := []progress.Sink{progresssinks.NewStoreSink(a.store, a.logger.Named("progress_store"))}
	if pc.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if pc.MetricsEnable {
		promSink, err := progresssinks.NewPrometheusSink(o.registerer)
		if err != nil {
			return fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	sinkList = append(sinkList, o.sinks...)

	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatch,
		MaxBatchWait:   pc.MaxBatchWait,
		SinkTimeout:    pc.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupProber(o options) (audit.Prober, error) {
	if o.prober != nil {
		return o.prober, nil
	}
	pc := a.cfg.Probe
	headers := make(http.Header, len(pc.Headers))
	for k, v := range pc.Headers {
		headers.Set(k, v)
	}
	var probe audit.Prober = collyprober.New(collyprober.Config{
		UserAgent:   pc.UserAgent,
		Timeout:     pc.Timeout,
		GetFallback: pc.GetFallback,
		Headers:     headers,
	})
	a.logger.Info("using colly prober", zap.String("user_agent", pc.UserAgent))

	if a.cfg.Headless.Enabled {
		hp, err := headlessprober.New(headlessprober.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         pc.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless prober init failed: %w", err)
		}
		a.headless = hp
		probe = &prober.Fallback{
			Primary:   probe,
			Secondary: hp,
			Promote:   prober.BlockedByBotWall,
			Logger:    a.logger.Named("fallback"),
		}
		a.logger.Info("headless fallback enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	if a.cfg.RateLimit.RPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.RPS,
			DefaultBurst: a.cfg.RateLimit.Burst,
		})
		probe = limiter.Wrap(probe)
		a.logger.Info("per-host rate limit enabled", zap.Float64("rps", a.cfg.RateLimit.RPS))
	}
	return probe, nil
}

func (a *App) setupSource() error {
	sc := a.cfg.Source
	if sc.Path == "" {
		a.logger.Info("no bookmark source configured")
		return nil
	}
	file, err := source.NewFile(sc.Path, sc.Format)
	if err != nil {
		return fmt.Errorf("bookmark source init failed: %w", err)
	}
	a.source = file
	a.logger.Info("bookmark source configured",
		zap.String("path", file.Path),
		zap.String("format", string(file.Format)),
	)
	return nil
}
