package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func openStore(t *testing.T) *RunStore {
	t.Helper()

	store, err := Open(context.Background(), Options{
		Path:      filepath.Join(t.TempDir(), "nested", "linkaudit.db"),
		EnableWAL: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestRunStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.CreateRun(ctx, audit.RunRecord{ID: "run-1", Status: audit.RunStatusRunning, StartedAt: started}))
	require.Error(t, store.CreateRun(ctx, audit.RunRecord{ID: "run-1", Status: audit.RunStatusRunning, StartedAt: started}))

	require.NoError(t, store.UpdateRun(ctx, "run-1", audit.RunStatusPaused, audit.Snapshot{Total: 3, Processed: 1, Verified: 1, ProgressPercent: 33}, ""))
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusPaused, run.Status)
	require.Equal(t, 33, run.Progress.ProgressPercent)
	require.Nil(t, run.FinishedAt)
	require.True(t, started.Equal(run.StartedAt))

	final := audit.Snapshot{Total: 3, Verified: 1, Unverified: 1, Ignored: 1, Processed: 3, ProgressPercent: 100}
	require.NoError(t, store.UpdateRun(ctx, "run-1", audit.RunStatusCompleted, final, ""))
	require.NoError(t, store.UpdateRun(ctx, "run-1", audit.RunStatusRunning, audit.Snapshot{}, ""))

	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusCompleted, run.Status)
	require.Equal(t, final, run.Progress)
	require.NotNil(t, run.FinishedAt)

	report := audit.Report{
		RunID:           "run-1",
		Status:          audit.RunStatusCompleted,
		Total:           3,
		Verified:        1,
		Unverified:      1,
		Ignored:         1,
		DuplicateURLs:   []string{},
		UnverifiedItems: []audit.UnverifiedItem{{Title: "C", URL: "http://c", Reason: "timeout"}},
		IgnoredItems:    []audit.IgnoredItem{{Title: "B", URL: "ftp://b"}},
	}
	require.NoError(t, store.SaveReport(ctx, report))
	require.NoError(t, store.SaveReport(ctx, report))
	got, err := store.GetReport(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, report.UnverifiedItems, got.UnverifiedItems)
	require.Equal(t, report.IgnoredItems, got.IgnoredItems)
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	_, err := store.GetRun(ctx, "ghost")
	require.ErrorIs(t, err, audit.ErrNotFound)
	_, err = store.GetReport(ctx, "ghost")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.ErrorIs(t, store.UpdateRun(ctx, "ghost", audit.RunStatusRunning, audit.Snapshot{}, ""), audit.ErrNotFound)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, audit.RunRecord{ID: id, Status: audit.RunStatusRunning, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID)
	require.Equal(t, "b", runs[1].ID)

	runs, err = store.ListRuns(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "a", runs[0].ID)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Options{})
	require.Error(t, err)
}
