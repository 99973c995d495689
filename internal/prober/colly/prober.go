// Package collyprober checks URL reachability with gocolly.
package collyprober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout caps one HTTP exchange. The verifier's race timer usually
	// fires first; this bounds the orphaned request.
	Timeout time.Duration
	// GetFallback retries with GET when a server rejects HEAD.
	GetFallback bool
	Headers     http.Header
}

// Prober implements audit.Prober with HEAD requests issued by a Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config) *Prober {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = 64 << 10
	c.WithTransport(newHTTPTransport())
	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe sends HEAD (then GET if the server answers 405 or 501 and
// GetFallback is set) and reports whether any HTTP response came back.
func (p *Prober) Probe(ctx context.Context, rawURL string) audit.ProbeResult {
	res := p.request(ctx, http.MethodHead, rawURL)
	if p.cfg.GetFallback && res.Reachable &&
		(res.StatusCode == http.StatusMethodNotAllowed || res.StatusCode == http.StatusNotImplemented) {
		res = p.request(ctx, http.MethodGet, rawURL)
	}
	return res
}

type outcome struct {
	status int
	err    error
}

func (p *Prober) request(ctx context.Context, method, rawURL string) audit.ProbeResult {
	var out outcome
	collector := p.buildCollector(ctx)
	p.configureCollectorHooks(collector, &out)

	if err := runCollector(ctx, collector, method, rawURL); err != nil && out.err == nil {
		out.err = err
	}
	switch {
	case out.status != 0:
		return audit.ProbeResult{Reachable: true, StatusCode: out.status}
	case out.err != nil:
		return audit.ProbeResult{ErrorMessage: errorMessage(out.err)}
	default:
		return audit.ProbeResult{ErrorMessage: "no response"}
	}
}

func (p *Prober) buildCollector(ctx context.Context) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.Context = ctx
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, out *outcome) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range p.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		out.status = r.StatusCode
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			out.status = r.StatusCode
		}
		out.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, method, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, rawURL, nil, nil, nil)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so the collector returns promptly.
		<-done
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s failed: %w", method, err)
		}
		return nil
	}
}

// errorMessage keeps the innermost network error, which is what a user
// recognizes (DNS failure, refused connection, certificate problem).
func errorMessage(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Error()
	}
	return err.Error()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
