package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/norasector/txsweep/pkg/sweep"
)

// Group runs sessions that each own a separate device and waits for all of them.
// Sessions share nothing; a failing session only stops the others when the group
// was created with failFast.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

func NewGroup(ctx context.Context, failFast bool) *Group {
	if failFast {
		eg, egCtx := errgroup.WithContext(ctx)
		return &Group{eg: eg, ctx: egCtx}
	}
	return &Group{eg: &errgroup.Group{}, ctx: ctx}
}

// Go starts s on plan in its own goroutine.
func (g *Group) Go(s *Session, plan *sweep.Plan, shape Shape) {
	g.eg.Go(func() error {
		if err := s.Run(g.ctx, plan, shape); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		return nil
	})
}

// Wait blocks until every session has stopped and returns the first error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
