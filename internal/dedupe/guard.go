// Package dedupe guards against platform redelivery of the same event.
// Messenger retries a webhook when the acknowledgement is slow, so a message
// id may arrive more than once within a short window.
package dedupe

import (
	"context"
	"sync"
	"time"
)

const defaultTTL = 10 * time.Minute

// Guard remembers keys for a TTL. Seen marks key and reports whether it had
// already been marked within the window.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

// MemoryGuard is an in-process Guard. Expired keys are swept lazily on write.
type MemoryGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= g.ttl {
		for k, exp := range g.seen {
			if now.After(exp) {
				delete(g.seen, k)
			}
		}
		g.lastSweep = now
	}

	if exp, ok := g.seen[key]; ok && !now.After(exp) {
		return true, nil
	}
	g.seen[key] = now.Add(g.ttl)
	return false, nil
}

// size returns the number of remembered keys, expired or not.
func (g *MemoryGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *MemoryGuard) Close() error { return nil }

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }

func (Nop) Close() error { return nil }
