package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBookmarkNodeHasURL(t *testing.T) {
	t.Parallel()

	var nilNode *BookmarkNode
	require.False(t, nilNode.HasURL())
	require.False(t, (&BookmarkNode{Title: "folder"}).HasURL())
	require.True(t, (&BookmarkNode{URL: "https://example.com"}).HasURL())
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	item := WorkItem{Title: "a", URL: "http://a"}
	require.Equal(t, OutcomeVerified, Verified(item, 204).Outcome)
	require.Equal(t, 204, Verified(item, 204).StatusCode)

	un := Unverified(item, ReasonTimeout)
	require.Equal(t, OutcomeUnverified, un.Outcome)
	require.Equal(t, "timeout", un.Reason)

	ign := Ignored(WorkItem{URL: "ftp://b"}, "ftp")
	require.Equal(t, OutcomeIgnored, ign.Outcome)
	require.Equal(t, "ftp", ign.Scheme)
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, RunStatusRunning.Terminal())
	require.False(t, RunStatusPaused.Terminal())
	require.True(t, RunStatusCompleted.Terminal())
	require.True(t, RunStatusAborted.Terminal())
	require.True(t, RunStatusFailed.Terminal())
}

func TestReportProcessed(t *testing.T) {
	t.Parallel()

	r := Report{Verified: 2, Unverified: 1, Ignored: 3, Cancelled: 4}
	require.Equal(t, 6, r.Processed())
}

func TestTaskResultErr(t *testing.T) {
	t.Parallel()

	item := WorkItem{URL: "http://a"}
	require.NoError(t, Verified(item, 200).Err())
	require.ErrorIs(t, Ignored(WorkItem{URL: "mailto:x"}, "mailto").Err(), ErrProtocolIgnored)
	require.ErrorIs(t, Unverified(item, ReasonTimeout).Err(), ErrTimeout)

	err := Unverified(item, "HTTP 500").Err()
	require.ErrorIs(t, err, ErrProbeFailure)
	require.Contains(t, err.Error(), "HTTP 500")
}
