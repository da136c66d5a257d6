// Package clock defines the time source and timer abstraction consumed by
// the ARA routing core, plus a real-time reference implementation.
//
// The core never calls time.Now or time.AfterFunc directly; it only ever
// goes through a Clock so that tests can substitute a Manual clock (see
// manual.go) and drive route discovery, delivery delay, and neighbor
// liveness deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source consumed by the routing core. Now returns a
// monotonic duration since some fixed epoch (wall-clock semantics are not
// required — only that it never goes backwards and that differences are
// meaningful). NewTimer allocates a fresh one-shot Timer handle.
type Clock interface {
	Now() time.Duration
	NewTimer() Timer
}

// Listener is invoked when a Timer it was registered on expires. It is
// called at most once per Run call, and never after a successful Interrupt.
type Listener func(t Timer)

// Timer is a handle to a future one-shot expiry. Run arms or re-arms it;
// Interrupt cancels any pending expiry. A Timer's identity (not its value)
// is what callers key maps on, so implementations must be reference types.
type Timer interface {
	// Run arms the timer to fire after d, replacing any previously scheduled
	// expiry.
	Run(d time.Duration)
	// Interrupt cancels a pending expiry. It is always safe to call,
	// including on an already-fired or already-interrupted timer.
	Interrupt()
	// OnExpire registers the listener invoked on expiry. There is at most
	// one listener per timer; registering again replaces it.
	OnExpire(fn Listener)
}

// Real is a Clock backed by the operating system's monotonic clock and
// time.AfterFunc. Safe for concurrent use.
type Real struct {
	start time.Time
}

// NewReal creates a real-time Clock.
func NewReal() *Real {
	return &Real{start: time.Now()}
}

// Now returns the monotonic duration elapsed since the clock was created.
func (c *Real) Now() time.Duration {
	return time.Since(c.start)
}

// NewTimer allocates a new, unarmed real-time Timer.
func (c *Real) NewTimer() Timer {
	return &realTimer{}
}

// realTimer is a Timer backed by time.AfterFunc. A generation counter makes
// Interrupt race-free against an in-flight expiry: the callback checks that
// its generation is still current before invoking the listener, so a timer
// that is interrupted and freed cannot fire its listener afterwards.
type realTimer struct {
	mu         sync.Mutex
	underlying *time.Timer
	generation uint64
	listener   Listener
}

func (t *realTimer) Run(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.underlying != nil {
		t.underlying.Stop()
	}
	t.generation++
	gen := t.generation

	t.underlying = time.AfterFunc(d, func() {
		t.mu.Lock()
		listener := t.listener
		current := gen == t.generation
		t.mu.Unlock()

		if current && listener != nil {
			listener(t)
		}
	})
}

func (t *realTimer) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.underlying != nil {
		t.underlying.Stop()
	}
	t.generation++
}

func (t *realTimer) OnExpire(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = fn
}
