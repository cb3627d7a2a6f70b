// Package state holds the in-memory reactive caches that mirror persisted
// entities for UI subscribers. Each cache owns cloned copies of its values
// and fans out changes through last-value-wins watches: a subscriber that
// falls behind skips superseded snapshots instead of queueing them.
package state

import (
	"context"
	"sync"
)

// Watch is a single-slot broadcast cell. Send replaces the stored value
// and wakes every receiver; a receiver always reads the latest value, never
// a backlog. This is a current-value channel, not a message queue.
type Watch[T any] struct {
	mu     sync.Mutex
	value  T
	gen    uint64
	subs   map[*Receiver[T]]struct{}
	closed bool
}

// Receiver observes a Watch. Each receiver tracks the last generation it
// observed, so Changed fires exactly when there is something newer to read.
type Receiver[T any] struct {
	w      *Watch[T]
	seen   uint64
	signal chan struct{}
}

// NewWatch creates a watch holding an initial value. The initial value
// counts as the first generation, so a fresh receiver's Changed returns
// immediately.
func NewWatch[T any](initial T) *Watch[T] {
	return &Watch[T]{
		value: initial,
		gen:   1,
		subs:  make(map[*Receiver[T]]struct{}),
	}
}

// Send stores v as the current value and wakes all receivers. If the watch
// is closed the value is dropped.
func (w *Watch[T]) Send(v T) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.value = v
	w.gen++
	wake := make([]*Receiver[T], 0, len(w.subs))
	for r := range w.subs {
		wake = append(wake, r)
	}
	w.mu.Unlock()

	for _, r := range wake {
		select {
		case r.signal <- struct{}{}:
		default: // already pending, value coalesces
		}
	}
}

// Latest returns the current value without consuming any receiver state.
func (w *Watch[T]) Latest() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Subscribe registers a new receiver. The current value is immediately
// observable: the first Changed call returns at once.
func (w *Watch[T]) Subscribe() *Receiver[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &Receiver[T]{w: w, signal: make(chan struct{}, 1)}
	w.subs[r] = struct{}{}
	return r
}

// Close retires the watch: pending values stay readable, then Changed
// returns ErrWatchClosed. Further Sends are dropped.
func (w *Watch[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	wake := make([]*Receiver[T], 0, len(w.subs))
	for r := range w.subs {
		wake = append(wake, r)
	}
	w.mu.Unlock()

	for _, r := range wake {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
}

// Changed blocks until the watch holds a value newer than the last one this
// receiver read via Latest. Returns nil when a new value is ready,
// ErrWatchClosed once the watch is retired and drained, or the context
// error on cancellation.
func (r *Receiver[T]) Changed(ctx context.Context) error {
	for {
		r.w.mu.Lock()
		if r.w.gen > r.seen {
			r.w.mu.Unlock()
			return nil
		}
		closed := r.w.closed
		r.w.mu.Unlock()

		if closed {
			return ErrWatchClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.signal:
		}
	}
}

// Latest returns the current value and marks it observed.
func (r *Receiver[T]) Latest() T {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.seen = r.w.gen
	return r.w.value
}

// Cancel unregisters the receiver. Safe to call more than once.
func (r *Receiver[T]) Cancel() {
	r.w.mu.Lock()
	delete(r.w.subs, r)
	r.w.mu.Unlock()
}
