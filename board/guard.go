package board

import (
	"context"
	"sync"
)

// taskGuard serializes mutations per task id. Different ids never block
// each other.
type taskGuard struct {
	mu    sync.Mutex
	slots map[string]*guardSlot
}

type guardSlot struct {
	ch   chan struct{}
	refs int
}

func newTaskGuard() *taskGuard {
	return &taskGuard{slots: make(map[string]*guardSlot)}
}

// acquire blocks until id is free or ctx is done.
func (g *taskGuard) acquire(ctx context.Context, id string) (func(), error) {
	g.mu.Lock()
	s, ok := g.slots[id]
	if !ok {
		s = &guardSlot{ch: make(chan struct{}, 1)}
		g.slots[id] = s
	}
	s.refs++
	g.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		g.drop(id, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			g.drop(id, s)
		})
	}, nil
}

func (g *taskGuard) drop(id string, s *guardSlot) {
	g.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(g.slots, id)
	}
	g.mu.Unlock()
}

// held reports whether a mutation on id is in flight.
func (g *taskGuard) held(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[id]
	return ok && len(s.ch) > 0
}
