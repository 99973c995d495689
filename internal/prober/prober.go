// Package prober composes audit.Prober implementations.
package prober

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Promoter decides whether a primary probe result should be retried with the
// secondary prober.
type Promoter func(audit.ProbeResult) bool

// BlockedByBotWall promotes responses typical of bot protection that a real
// browser usually gets past.
func BlockedByBotWall(res audit.ProbeResult) bool {
	if !res.Reachable {
		return false
	}
	switch res.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// Fallback probes with Primary and, when Promote approves, again with
// Secondary. The secondary result wins.
type Fallback struct {
	Primary   audit.Prober
	Secondary audit.Prober
	Promote   Promoter
	Logger    *zap.Logger
}

// Probe implements audit.Prober.
func (f *Fallback) Probe(ctx context.Context, rawURL string) audit.ProbeResult {
	res := f.Primary.Probe(ctx, rawURL)
	if f.Secondary == nil || ctx.Err() != nil {
		return res
	}
	promote := f.Promote
	if promote == nil {
		promote = BlockedByBotWall
	}
	if !promote(res) {
		return res
	}
	if f.Logger != nil {
		f.Logger.Debug("headless promotion applied", zap.String("url", rawURL), zap.Int("status", res.StatusCode))
	}
	return f.Secondary.Probe(ctx, rawURL)
}
