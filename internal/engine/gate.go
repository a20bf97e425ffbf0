package engine

import (
	"context"
	"sync"
)

// IdentityGate serializes task runs per sending identity. A userbot is a
// single external account; concurrent use would corrupt its session, so
// at most one run per identity holds the gate at a time. Waiters are
// granted strictly in arrival order; different identities do not affect
// each other.
type IdentityGate struct {
	mu      sync.Mutex
	busy    map[string]bool
	waiters map[string][]chan struct{}
}

func NewIdentityGate() *IdentityGate {
	return &IdentityGate{
		busy:    make(map[string]bool),
		waiters: make(map[string][]chan struct{}),
	}
}

// Acquire blocks until the identity is free or ctx is done. FIFO per
// identity: the longest-waiting caller is granted first.
func (g *IdentityGate) Acquire(ctx context.Context, identity string) error {
	g.mu.Lock()
	if !g.busy[identity] {
		g.busy[identity] = true
		g.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	g.waiters[identity] = append(g.waiters[identity], grant)
	g.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		queue := g.waiters[identity]
		for i, w := range queue {
			if w == grant {
				g.waiters[identity] = append(queue[:i:i], queue[i+1:]...)
				if len(g.waiters[identity]) == 0 {
					delete(g.waiters, identity)
				}
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The grant raced with cancellation: ownership was already handed
		// to us, give it back so the identity is not starved.
		g.Release(identity)
		return ctx.Err()
	}
}

// Release frees the identity or hands it to the next waiter. Must be
// called exactly once per successful Acquire, on every exit path.
func (g *IdentityGate) Release(identity string) {
	g.mu.Lock()
	queue := g.waiters[identity]
	if len(queue) > 0 {
		next := queue[0]
		g.waiters[identity] = queue[1:]
		if len(g.waiters[identity]) == 0 {
			delete(g.waiters, identity)
		}
		g.mu.Unlock()
		// busy stays true: ownership transfers to the waiter.
		close(next)
		return
	}
	delete(g.busy, identity)
	g.mu.Unlock()
}

// Busy reports whether the identity currently has an active run.
func (g *IdentityGate) Busy(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy[identity]
}
