package walker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func TestWalkVisitsEveryURLNode(t *testing.T) {
	t.Parallel()

	forest := []*audit.BookmarkNode{
		{Title: "Bar", Children: []*audit.BookmarkNode{
			{Title: "A", URL: "http://a"},
			{Title: "Nested", Children: []*audit.BookmarkNode{
				{Title: "B", URL: "ftp://b"},
				{Title: "Deep", Children: []*audit.BookmarkNode{{Title: "C", URL: "http://c"}}},
			}},
			{Title: "Empty"},
		}},
		{Title: "Both", URL: "http://both", Children: []*audit.BookmarkNode{{Title: "Child", URL: "http://child"}}},
		nil,
	}

	rec := &recorder{}
	require.NoError(t, New(rec.visit).Walk(context.Background(), forest))
	require.ElementsMatch(t, []string{"http://a", "ftp://b", "http://c", "http://both", "http://child"}, rec.urls())
}

func TestWalkEmptyForest(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	require.NoError(t, New(rec.visit).Walk(context.Background(), nil))
	require.Empty(t, rec.urls())
}

func TestWalkTerminatesOnCyclesAndSharedNodes(t *testing.T) {
	t.Parallel()

	shared := &audit.BookmarkNode{Title: "S", URL: "http://shared"}
	loop := &audit.BookmarkNode{Title: "Loop"}
	loop.Children = []*audit.BookmarkNode{shared, loop}
	forest := []*audit.BookmarkNode{loop, {Title: "Other", Children: []*audit.BookmarkNode{shared, loop}}}

	rec := &recorder{}
	require.NoError(t, New(rec.visit).Walk(context.Background(), forest))
	require.Equal(t, []string{"http://shared"}, rec.urls())
}

func TestWalkSameURLInDistinctNodesIsVisitedTwice(t *testing.T) {
	t.Parallel()

	forest := []*audit.BookmarkNode{{URL: "http://x"}, {URL: "http://x"}}
	rec := &recorder{}
	require.NoError(t, New(rec.visit).Walk(context.Background(), forest))
	require.Equal(t, []string{"http://x", "http://x"}, rec.urls())
}

func TestWalkJoinsVisitorErrorsWithoutStopping(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	errC := errors.New("c failed")
	rec := &recorder{}
	visit := func(ctx context.Context, item audit.WorkItem) error {
		_ = rec.visit(ctx, item)
		switch item.URL {
		case "http://a":
			return errA
		case "http://c":
			return errC
		}
		return nil
	}
	forest := []*audit.BookmarkNode{{URL: "http://a"}, {URL: "http://b"}, {Children: []*audit.BookmarkNode{{URL: "http://c"}}}}

	err := New(visit).Walk(context.Background(), forest)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errC)
	require.Len(t, rec.urls(), 3)
}

// TestWalkFansOutConcurrently only completes if all leaves are inside the
// visitor at the same time.
func TestWalkFansOutConcurrently(t *testing.T) {
	t.Parallel()

	const leaves = 4
	var arrived sync.WaitGroup
	arrived.Add(leaves)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	visit := func(context.Context, audit.WorkItem) error {
		arrived.Done()
		select {
		case <-all:
			return nil
		case <-time.After(time.Second):
			return errors.New("visitors ran sequentially")
		}
	}
	forest := []*audit.BookmarkNode{
		{URL: "http://1"},
		{Children: []*audit.BookmarkNode{{URL: "http://2"}, {Children: []*audit.BookmarkNode{{URL: "http://3"}}}}},
		{URL: "http://4"},
	}
	require.NoError(t, New(visit).Walk(context.Background(), forest))
}

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) visit(_ context.Context, item audit.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, item.URL)
	return nil
}

func (r *recorder) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}
