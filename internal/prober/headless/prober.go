// Package headless probes URLs by navigating a headless Chrome tab, for
// sites that refuse plain HTTP clients.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Config controls the behavior of the headless prober.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Prober implements audit.Prober using chromedp.
type Prober struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless prober backed by a shared browser allocator.
func New(cfg Config) (*Prober, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Prober{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (p *Prober) Close() {
	p.allocCancel()
}

// Probe navigates to rawURL and reports the status of the main document.
func (p *Prober) Probe(ctx context.Context, rawURL string) audit.ProbeResult {
	if err := p.acquire(ctx); err != nil {
		return audit.ProbeResult{ErrorMessage: err.Error()}
	}
	defer p.release()

	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	defer tabCancel()
	// Tie the tab to the caller so a lost race closes it.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, p.navTimeout())
	defer cancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	if err := chromedp.Run(tabCtx, p.setupAction(), chromedp.Navigate(rawURL)); err != nil {
		if status := meta.get(); status != 0 {
			return audit.ProbeResult{Reachable: true, StatusCode: status}
		}
		return audit.ProbeResult{ErrorMessage: fmt.Sprintf("navigate: %v", err)}
	}
	return audit.ProbeResult{Reachable: true, StatusCode: meta.get()}
}

func (p *Prober) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Prober) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (p *Prober) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

func (p *Prober) navTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return 30 * time.Second
}

// documentStatus records the HTTP status of the last main-document response,
// which is the final hop after redirects.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
