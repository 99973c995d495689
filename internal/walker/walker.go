// Package walker traverses a bookmark forest and hands every URL-bearing node
// to a Visitor, fanning out over children concurrently.
package walker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Visitor handles one URL-bearing node. It may block; the walk only returns
// once every visitor call has returned.
type Visitor func(ctx context.Context, item audit.WorkItem) error

// Option customizes a Walker.
type Option func(*Walker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Walker) {
		w.logger = logger
	}
}

// Walker visits bookmark forests.
type Walker struct {
	visit  Visitor
	logger *zap.Logger
}

// New builds a Walker that calls visit for each URL-bearing node.
func New(visit Visitor, opts ...Option) *Walker {
	w := &Walker{visit: visit}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

type walk struct {
	mu      sync.Mutex
	visited map[*audit.BookmarkNode]struct{}
	errs    []error
}

func (s *walk) claim(n *audit.BookmarkNode) bool {
	if n == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.visited[n]; seen {
		return false
	}
	s.visited[n] = struct{}{}
	return true
}

func (s *walk) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Walk visits every node of forest exactly once. Visitor errors do not stop
// the traversal; they are joined into the returned error.
func (w *Walker) Walk(ctx context.Context, forest []*audit.BookmarkNode) error {
	s := &walk{visited: make(map[*audit.BookmarkNode]struct{})}
	w.walkNodes(ctx, s, forest)
	if len(s.errs) > 0 {
		w.logger.Debug("walk finished with visitor errors", zap.Int("errors", len(s.errs)))
	}
	return errors.Join(s.errs...)
}

func (w *Walker) walkNodes(ctx context.Context, s *walk, nodes []*audit.BookmarkNode) {
	var g errgroup.Group
	for _, n := range nodes {
		if !s.claim(n) {
			continue
		}
		if n.HasURL() {
			item := audit.WorkItem{Title: n.Title, URL: n.URL}
			g.Go(func() error {
				if err := w.visit(ctx, item); err != nil {
					s.fail(err)
				}
				return nil
			})
		}
		if len(n.Children) > 0 {
			g.Go(func() error {
				w.walkNodes(ctx, s, n.Children)
				return nil
			})
		}
	}
	_ = g.Wait()
}
