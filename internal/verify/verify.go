// Package verify turns one WorkItem into a TaskResult by racing a Prober
// against a fixed timer.
package verify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Config tunes the verifier.
type Config struct {
	Timeout time.Duration
}

// Verifier classifies bookmark URLs.
type Verifier struct {
	prober audit.Prober
	cfg    Config
	clock  audit.Clock
	logger *zap.Logger
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithClock overrides the clock used to measure durations.
func WithClock(clock audit.Clock) Option {
	return func(v *Verifier) {
		v.clock = clock
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New builds a Verifier around prober.
func New(prober audit.Prober, cfg Config, opts ...Option) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	v := &Verifier{prober: prober, cfg: cfg}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.clock == nil {
		v.clock = systemClock{}
	}
	return v
}

// Timeout returns the effective probe timeout.
func (v *Verifier) Timeout() time.Duration {
	return v.cfg.Timeout
}

// Classify reports the lower-cased scheme of rawURL and whether it is one the
// verifier probes (http or https).
func Classify(rawURL string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	scheme := ""
	if u, err := url.Parse(trimmed); err == nil {
		scheme = strings.ToLower(u.Scheme)
	} else if i := strings.Index(trimmed, ":"); i > 0 {
		scheme = strings.ToLower(trimmed[:i])
	}
	return scheme, scheme == "http" || scheme == "https"
}

// Verify classifies item. Non-HTTP schemes are ignored without probing.
// Otherwise the probe races the timer and the first to finish decides; a
// probe that loses is cancelled through its context. If ctx ends first the
// error wraps audit.ErrCancelled.
func (v *Verifier) Verify(ctx context.Context, item audit.WorkItem) (audit.TaskResult, error) {
	if scheme, ok := Classify(item.URL); !ok {
		v.logger.Debug("scheme ignored", zap.String("url", item.URL), zap.String("scheme", scheme))
		return audit.Ignored(item, scheme), nil
	}
	if err := ctx.Err(); err != nil {
		return audit.TaskResult{Item: item}, fmt.Errorf("verify %s: %w", item.URL, audit.ErrCancelled)
	}

	start := v.clock.Now()
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	probes := make(chan audit.ProbeResult, 1)
	go func() {
		probes <- v.probe(probeCtx, item.URL)
	}()

	timer := time.NewTimer(v.cfg.Timeout)
	defer timer.Stop()

	var res audit.TaskResult
	select {
	case pr := <-probes:
		res = fromProbe(item, pr)
	case <-timer.C:
		v.logger.Debug("probe timed out", zap.String("url", item.URL), zap.Duration("timeout", v.cfg.Timeout))
		res = audit.Unverified(item, audit.ReasonTimeout)
	case <-ctx.Done():
		return audit.TaskResult{Item: item}, fmt.Errorf("verify %s: %w", item.URL, audit.ErrCancelled)
	}
	res.Duration = v.clock.Now().Sub(start)
	return res, nil
}

func (v *Verifier) probe(ctx context.Context, rawURL string) (res audit.ProbeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("prober panicked", zap.String("url", rawURL), zap.Any("panic", rec))
			res = audit.ProbeResult{ErrorMessage: fmt.Sprintf("probe panicked: %v", rec)}
		}
	}()
	return v.prober.Probe(ctx, rawURL)
}

// fromProbe decides on the status code; Reachable only matters when the
// prober reported no status.
func fromProbe(item audit.WorkItem, pr audit.ProbeResult) audit.TaskResult {
	if pr.StatusCode >= 200 && pr.StatusCode < 400 {
		return audit.Verified(item, pr.StatusCode)
	}
	if pr.StatusCode == 0 && pr.Reachable {
		return audit.Verified(item, 0)
	}
	reason := pr.ErrorMessage
	switch {
	case reason != "":
	case pr.StatusCode != 0:
		reason = fmt.Sprintf("HTTP %d", pr.StatusCode)
	default:
		reason = "unreachable"
	}
	res := audit.Unverified(item, reason)
	res.StatusCode = pr.StatusCode
	return res
}
