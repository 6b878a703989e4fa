// Package inflight serializes work per key: a second Acquire for a key that
// is still held fails fast with ErrBusy instead of waiting.
package inflight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrBusy = errors.New("operation already in progress")

// Guard hands out exclusive, non-blocking claims on keys.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrBusy
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

const waitPoll = 20 * time.Millisecond

// AcquireWait retries Acquire until the key frees up or wait elapses. It
// returns ErrBusy when the key is still held at the deadline.
func AcquireWait(ctx context.Context, g Guard, key string, wait time.Duration) (func(), error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		release, err := g.Acquire(ctx, key)
		if !errors.Is(err, ErrBusy) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrBusy
		case <-time.After(waitPoll):
		}
	}
}

// Key joins the parts of a guard key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
