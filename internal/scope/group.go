package scope

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group fans one scope out into parallel sub-operations, each running in
// its own clone of the source scope.
//
// Unlike errgroup.WithContext, a failing or cancelled child never cancels
// its siblings or the source: every child owns an independent Store.
//
//	g, err := scope.NewGroup(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, shard := range shards {
//	    g.Go(scope.Data{"shard": shard}, func(ctx context.Context) error {
//	        return search(ctx)
//	    })
//	}
//	return g.Wait()
type Group struct {
	ctx    context.Context
	source Handle
	eg     errgroup.Group
}

// NewGroup creates a Group over the scope bound to ctx. It returns an error
// wrapping ErrNoScope if ctx carries none.
func NewGroup(ctx context.Context) (*Group, error) {
	h, err := Require(ctx)
	if err != nil {
		return nil, err
	}
	return &Group{ctx: ctx, source: h}, nil
}

// SetLimit bounds the number of children running at once. See
// errgroup.Group.SetLimit.
func (g *Group) SetLimit(n int) {
	g.eg.SetLimit(n)
}

// Go clones the source scope with extra and runs fn in the clone on a new
// goroutine. The clone's handle is returned so the caller can cancel that
// child alone.
func (g *Group) Go(extra Data, fn func(context.Context) error) Handle {
	child := g.source.Clone(extra)
	g.eg.Go(func() error {
		return bind(g.ctx, child.s, fn)
	})
	return child
}

// Wait blocks until every child has returned and reports the first non-nil
// error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
