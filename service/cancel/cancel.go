// Package cancel provides the one-shot abort signal shared by every
// concurrent activity in a transaction submission: the resend loop, the
// confirmation watcher, and the active timeout policy all observe the same
// Token and wind down when it fires.
package cancel

import (
	"context"
	"sync"
	"time"
)

// Token is a one-shot cancellation signal. Trigger is idempotent: the first
// call fires the token, every later call is a no-op. Listeners registered
// before the token fires run exactly once each; listeners registered after
// run immediately.
type Token struct {
	mu        sync.Mutex
	fired     bool
	done      chan struct{}
	nextID    int
	listeners map[int]func()
}

// NewToken creates an unfired Token.
func NewToken() *Token {
	return &Token{
		done:      make(chan struct{}),
		listeners: make(map[int]func()),
	}
}

// Trigger fires the token. Calling it more than once is a no-op.
func (t *Token) Trigger() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	close(t.done)
	// Snapshot under the lock so a listener removing itself mid-iteration
	// doesn't race the map.
	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listeners = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Fired reports whether the token has been triggered.
func (t *Token) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Done returns a channel that is closed when the token fires. Suitable for
// use in select statements alongside timers and context cancellation.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnTrigger registers fn to run when the token fires and returns an id that
// can be passed to RemoveListener. If the token already fired, fn runs
// synchronously and the returned id is inert.
func (t *Token) OnTrigger(fn func()) int {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		fn()
		return -1
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return id
}

// RemoveListener deregisters a listener added with OnTrigger. Removing an
// unknown or already-fired id is a no-op. Waiters that lose a race must call
// this so the token doesn't accumulate dead callbacks.
func (t *Token) RemoveListener(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listeners != nil {
		delete(t.listeners, id)
	}
}

// Sleep waits for d to elapse, returning early (with nil) if the token fires
// or (with ctx.Err()) if the context is done first. A nil token degrades to a
// plain context-aware sleep. The underlying timer is always released.
func Sleep(ctx context.Context, d time.Duration, token *Token) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var done <-chan struct{}
	if token != nil {
		done = token.Done()
	}

	select {
	case <-timer.C:
		return nil
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
