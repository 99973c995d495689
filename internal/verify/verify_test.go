package verify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw    string
		scheme string
		ok     bool
	}{
		{"http://a.example", "http", true},
		{"HTTPS://b.example/path", "https", true},
		{"ftp://files.example", "ftp", false},
		{"javascript:void(0)", "javascript", false},
		{"chrome://settings", "chrome", false},
		{"no-scheme", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		scheme, ok := Classify(tc.raw)
		require.Equal(t, tc.scheme, scheme, tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
	}
}

func TestVerifyIgnoresNonHTTPWithoutProbing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	v := New(audit.ProberFunc(func(context.Context, string) audit.ProbeResult {
		calls.Add(1)
		return audit.ProbeResult{Reachable: true, StatusCode: 200}
	}), Config{})

	res, err := v.Verify(context.Background(), audit.WorkItem{Title: "b", URL: "ftp://b"})
	require.NoError(t, err)
	require.Equal(t, audit.OutcomeIgnored, res.Outcome)
	require.Equal(t, "ftp", res.Scheme)
	require.Zero(t, calls.Load())
}

func TestVerifyClassifiesProbeResults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		probe   audit.ProbeResult
		outcome audit.Outcome
		reason  string
	}{
		{"ok", audit.ProbeResult{Reachable: true, StatusCode: 200}, audit.OutcomeVerified, ""},
		{"redirect", audit.ProbeResult{Reachable: true, StatusCode: 301}, audit.OutcomeVerified, ""},
		{"not found", audit.ProbeResult{Reachable: true, StatusCode: 404}, audit.OutcomeUnverified, "HTTP 404"},
		{"server error with message", audit.ProbeResult{StatusCode: 503, ErrorMessage: "upstream down"}, audit.OutcomeUnverified, "upstream down"},
		{"dns failure", audit.ProbeResult{ErrorMessage: "no such host"}, audit.OutcomeUnverified, "no such host"},
		{"silent failure", audit.ProbeResult{}, audit.OutcomeUnverified, "unreachable"},
		{"status without reachable flag", audit.ProbeResult{StatusCode: 200}, audit.OutcomeVerified, ""},
		{"reachable without status", audit.ProbeResult{Reachable: true}, audit.OutcomeVerified, ""},
		{"reachable flag with bad status", audit.ProbeResult{Reachable: true, StatusCode: 500}, audit.OutcomeUnverified, "HTTP 500"},
	}
	for _, tc := range cases {
		v := New(audit.ProberFunc(func(context.Context, string) audit.ProbeResult { return tc.probe }), Config{Timeout: time.Second})
		res, err := v.Verify(context.Background(), audit.WorkItem{URL: "http://a"})
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.outcome, res.Outcome, tc.name)
		require.Equal(t, tc.reason, res.Reason, tc.name)
	}
}

func TestVerifyTimeoutWinsAndCancelsProbe(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	v := New(audit.ProberFunc(func(ctx context.Context, _ string) audit.ProbeResult {
		<-ctx.Done()
		close(cancelled)
		return audit.ProbeResult{Reachable: true, StatusCode: 200}
	}), Config{Timeout: 20 * time.Millisecond})

	res, err := v.Verify(context.Background(), audit.WorkItem{URL: "http://c"})
	require.NoError(t, err)
	require.Equal(t, audit.OutcomeUnverified, res.Outcome)
	require.Equal(t, audit.ReasonTimeout, res.Reason)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("losing probe was not cancelled")
	}
}

func TestVerifyReportsCancellation(t *testing.T) {
	t.Parallel()

	v := New(audit.ProberFunc(func(ctx context.Context, _ string) audit.ProbeResult {
		<-ctx.Done()
		return audit.ProbeResult{}
	}), Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := v.Verify(ctx, audit.WorkItem{URL: "https://slow"})
	require.ErrorIs(t, err, audit.ErrCancelled)

	_, err = v.Verify(ctx, audit.WorkItem{URL: "https://after"})
	require.ErrorIs(t, err, audit.ErrCancelled)

	res, err := v.Verify(ctx, audit.WorkItem{URL: "ftp://after"})
	require.NoError(t, err)
	require.Equal(t, audit.OutcomeIgnored, res.Outcome)
}

func TestVerifyRecoversProberPanic(t *testing.T) {
	t.Parallel()

	v := New(audit.ProberFunc(func(context.Context, string) audit.ProbeResult { panic("kaboom") }), Config{})
	res, err := v.Verify(context.Background(), audit.WorkItem{URL: "http://p"})
	require.NoError(t, err)
	require.Equal(t, audit.OutcomeUnverified, res.Outcome)
	require.Contains(t, res.Reason, "kaboom")
}

func TestNewAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultTimeout, New(nil, Config{}).Timeout())
	require.Equal(t, time.Second, New(nil, Config{Timeout: time.Second}).Timeout())
}
