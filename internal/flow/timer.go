package flow

import (
	"log/slog"
	"sync"
	"time"
)

// IdleTimers is the Timer used in production: one time.AfterFunc per user.
type IdleTimers struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewIdleTimers returns an empty IdleTimers.
func NewIdleTimers() *IdleTimers {
	return &IdleTimers{pending: make(map[string]*time.Timer)}
}

// Reset implements Timer.
func (t *IdleTimers) Reset(key string, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.pending[key]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.pending[key] == tm {
			delete(t.pending, key)
		}
		t.mu.Unlock()
		fn()
	})
	t.pending[key] = tm
	slog.Debug("Idle timer armed", "key", key, "delay", delay)
}

// Stop implements Timer.
func (t *IdleTimers) Stop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.pending[key]; ok {
		tm.Stop()
		delete(t.pending, key)
	}
}

// Pending reports how many keys have a timer that has not fired yet.
func (t *IdleTimers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
