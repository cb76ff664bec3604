// Package frame coalesces bursts of recomputation requests into at most one
// run per key per frame.
package frame

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is one frame at 60Hz.
const DefaultInterval = 16 * time.Millisecond

// Loop holds at most one pending callback per key. A newer Request for the
// same key replaces the older callback, so the latest input wins and the
// work still runs once.
type Loop struct {
	mu      sync.Mutex
	pending map[string]func()
	order   []string
}

func NewLoop() *Loop {
	return &Loop{pending: make(map[string]func())}
}

// Request schedules fn for the next frame under key.
func (l *Loop) Request(key string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[key]; !ok {
		l.order = append(l.order, key)
	}
	l.pending[key] = fn
}

// Pending reports how many keys are waiting for the next frame.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush runs every pending callback once, in first-request order, and
// returns how many ran. Callbacks run outside the lock and may Request again;
// those land in the next frame.
func (l *Loop) Flush() int {
	l.mu.Lock()
	order := l.order
	pending := l.pending
	l.order = nil
	l.pending = make(map[string]func())
	l.mu.Unlock()

	for _, key := range order {
		pending[key]()
	}
	return len(order)
}

// Run flushes every interval until ctx is done.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}
