package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/progress"
	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/server"
	"github.com/JakeFAU/linkaudit/internal/source"
)

// errUnverified is returned with --fail-on-unverified when a link failed.
var errUnverified = errors.New("unverified links found")

type auditOptions struct {
	*rootOptions
	sourceFormat     string
	reportFormat     string
	output           string
	concurrency      int
	timeout          time.Duration
	quiet            bool
	failOnUnverified bool
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := &auditOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "audit [bookmark-file]",
		Short: "Audit a bookmark file and print the report",
		Long: `Audit reads the bookmark file (or source.path from the config), probes every
http(s) link and writes the report to stdout or --output.

SIGINT/SIGTERM abort the run; the partial report is still written. On Unix,
SIGUSR1 toggles pause.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.sourceFormat, "format", "", "bookmark format: chrome, netscape or yaml (default: from extension)")
	f.StringVar(&opts.reportFormat, "report", "markdown", "report format: json or markdown")
	f.StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of stdout")
	f.IntVar(&opts.concurrency, "concurrency", -1, "max in-flight probes (0 picks from CPU count)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-link probe timeout")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress to stderr")
	f.BoolVar(&opts.failOnUnverified, "fail-on-unverified", false, "exit non-zero when any link is unverified")
	return cmd
}

func runAudit(cmd *cobra.Command, opts *auditOptions, args []string) error {
	format, err := report.ParseFormat(opts.reportFormat)
	if err != nil {
		return err
	}
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	if len(args) == 1 {
		cfg.Source.Path = args[0]
		cfg.Source.Format = opts.sourceFormat
	} else if opts.sourceFormat != "" {
		cfg.Source.Format = opts.sourceFormat
	}
	if cfg.Source.Path == "" {
		return errors.New("no bookmark file given and source.path is not configured")
	}
	if opts.concurrency >= 0 {
		cfg.Audit.Concurrency = opts.concurrency
	}
	if opts.timeout > 0 {
		cfg.Audit.Timeout = opts.timeout
	}

	buildOpts := []server.Option{server.WithVersion(version)}
	if !opts.quiet {
		buildOpts = append(buildOpts, server.WithProgressSink(newProgressPrinter(cmd.ErrOrStderr())))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger, buildOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	run, err := app.Auditor().StartSource(ctx, app.Source())
	if err != nil {
		return err
	}
	stopPause := watchPauseSignal(run, logger)
	defer stopPause()

	rep, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("run finished with errors", zap.Error(err))
	}

	if err := writeReport(cmd.OutOrStdout(), opts.output, rep, format); err != nil {
		return err
	}
	if opts.failOnUnverified && rep.Unverified > 0 {
		return fmt.Errorf("%w: %d of %d", errUnverified, rep.Unverified, rep.Total)
	}
	return nil
}

func writeReport(stdout io.Writer, path string, rep audit.Report, format report.Format) error {
	if path == "" {
		return report.Render(stdout, rep, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := report.Render(f, rep, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return nil
}

// newProgressPrinter returns a progress sink that writes one status line per
// batch and a summary line when a run ends.
func newProgressPrinter(w io.Writer) progress.Sink {
	var mu sync.Mutex
	return progress.SinkFunc(func(_ context.Context, batch []progress.Event) error {
		mu.Lock()
		defer mu.Unlock()
		var last *progress.Event
		for i := range batch {
			evt := &batch[i]
			switch {
			case evt.Stage == progress.StageRunPaused:
				fmt.Fprintln(w, "paused")
			case evt.Stage == progress.StageRunResumed:
				fmt.Fprintln(w, "resumed")
			case evt.Stage.Terminal():
				s := evt.Stats
				fmt.Fprintf(w, "%s: %d verified, %d unverified, %d ignored, %d cancelled in %s\n",
					evt.Stage, s.Verified, s.Unverified, s.Ignored, s.Cancelled, evt.Dur.Round(time.Millisecond))
				last = nil
				continue
			case evt.Stage == progress.StageStats, evt.Stage == progress.StageItemDone:
				last = evt
			}
		}
		if last != nil {
			s := last.Stats
			fmt.Fprintf(w, "%d/%d links (%d%%), %d unverified\n", s.Processed, s.Total, s.ProgressPercent, s.Unverified)
		}
		return nil
	})
}

// checkSource parses a bookmark file and returns its URL count.
func checkSource(ctx context.Context, path, format string) (int, error) {
	file, err := source.NewFile(path, format)
	if err != nil {
		return 0, err
	}
	forest, err := file.GetTree(ctx)
	if err != nil {
		return 0, err
	}
	return source.Count(forest), nil
}
