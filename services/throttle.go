package services

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Throttler runs at most one callback per key per window, on the trailing edge.
// Triggers arriving while a callback is pending coalesce into it; the latest
// callback wins.
type Throttler struct {
	clock   clockwork.Clock
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	timer clockwork.Timer
	fn    func()
}

func NewThrottler(clock clockwork.Clock, window time.Duration) *Throttler {
	return &Throttler{clock: clock, window: window, pending: make(map[string]*pendingCall)}
}

// Trigger schedules fn for key unless a call for key is already pending.
func (t *Throttler) Trigger(key string, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call, ok := t.pending[key]; ok {
		call.fn = fn
		return
	}
	call := &pendingCall{fn: fn}
	call.timer = t.clock.AfterFunc(t.window, func() { t.fire(key) })
	t.pending[key] = call
}

func (t *Throttler) fire(key string) {
	t.mu.Lock()
	call, ok := t.pending[key]
	delete(t.pending, key)
	t.mu.Unlock()
	if ok {
		call.fn()
	}
}

// Pending reports whether a call for key is scheduled.
func (t *Throttler) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// Stop cancels every pending call.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, call := range t.pending {
		call.timer.Stop()
		delete(t.pending, key)
	}
}
