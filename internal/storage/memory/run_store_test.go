package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := audit.RunRecord{ID: "run-1", Status: audit.RunStatusRunning, StartedAt: time.Now().UTC()}

	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run))

	require.NoError(t, store.UpdateRun(ctx, run.ID, audit.RunStatusPaused, audit.Snapshot{Total: 4, Processed: 1}, ""))
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusPaused, got.Status)
	require.Nil(t, got.FinishedAt)

	final := audit.Snapshot{Total: 4, Verified: 4, Processed: 4, ProgressPercent: 100}
	require.NoError(t, store.UpdateRun(ctx, run.ID, audit.RunStatusCompleted, final, ""))
	require.NoError(t, store.SaveReport(ctx, audit.Report{RunID: run.ID, Status: audit.RunStatusCompleted, Total: 4}))

	// Terminal runs ignore late progress writes.
	require.NoError(t, store.UpdateRun(ctx, run.ID, audit.RunStatusRunning, audit.Snapshot{Total: 4, Processed: 3}, ""))
	got, err = store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusCompleted, got.Status)
	require.Equal(t, final, got.Progress)
	require.NotNil(t, got.FinishedAt)

	report, err := store.GetReport(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 4, report.Total)
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	_, err := store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
	_, err = store.GetReport(ctx, "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.ErrorIs(t, store.UpdateRun(ctx, "missing", audit.RunStatusRunning, audit.Snapshot{}, ""), audit.ErrNotFound)
	require.ErrorIs(t, store.SaveReport(ctx, audit.Report{RunID: "missing"}), audit.ErrNotFound)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, audit.RunRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(runs))

	runs, err = store.ListRuns(ctx, 10, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(runs))

	runs, err = store.ListRuns(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, runs)
	require.NoError(t, store.Ping(ctx))
}

func ids(runs []audit.RunRecord) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
