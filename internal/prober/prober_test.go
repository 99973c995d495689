package prober

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func TestFallbackPromotesBotWalls(t *testing.T) {
	t.Parallel()

	var secondaryCalls atomic.Int32
	primary := audit.ProberFunc(func(_ context.Context, rawURL string) audit.ProbeResult {
		if rawURL == "http://walled.example" {
			return audit.ProbeResult{Reachable: true, StatusCode: 403}
		}
		return audit.ProbeResult{Reachable: true, StatusCode: 200}
	})
	secondary := audit.ProberFunc(func(context.Context, string) audit.ProbeResult {
		secondaryCalls.Add(1)
		return audit.ProbeResult{Reachable: true, StatusCode: 200}
	})
	f := &Fallback{Primary: primary, Secondary: secondary}

	res := f.Probe(context.Background(), "http://open.example")
	require.Equal(t, 200, res.StatusCode)
	require.Zero(t, secondaryCalls.Load())

	res = f.Probe(context.Background(), "http://walled.example")
	require.Equal(t, 200, res.StatusCode)
	require.EqualValues(t, 1, secondaryCalls.Load())
}

func TestFallbackWithoutSecondary(t *testing.T) {
	t.Parallel()

	primary := audit.ProberFunc(func(context.Context, string) audit.ProbeResult {
		return audit.ProbeResult{Reachable: true, StatusCode: 429}
	})
	res := (&Fallback{Primary: primary}).Probe(context.Background(), "http://x.example")
	require.Equal(t, 429, res.StatusCode)
}

func TestBlockedByBotWall(t *testing.T) {
	t.Parallel()

	require.True(t, BlockedByBotWall(audit.ProbeResult{Reachable: true, StatusCode: 503}))
	require.False(t, BlockedByBotWall(audit.ProbeResult{Reachable: true, StatusCode: 404}))
	require.False(t, BlockedByBotWall(audit.ProbeResult{ErrorMessage: "dns"}))
}
