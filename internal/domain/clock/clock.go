// Package clock provides the one-shot countdown bound to an assessment stage.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock states. The move out of armed happens exactly once.
const (
	stateIdle int32 = iota
	stateArmed
	stateFired
	stateCancelled
)

// Stopper cancels a pending timer. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Stopper

// Clock is a one-shot stage countdown.
type Clock interface {
	// Start arms the countdown. Arming twice fails with ErrAlreadyArmed.
	Start(d time.Duration) error
	// Remaining returns the time left, or zero when not armed.
	Remaining() time.Duration
	// OnExpire registers the handler run once when the countdown elapses.
	OnExpire(fn func())
	// Cancel disarms the clock. Cancelling an unarmed or fired clock is a no-op.
	Cancel()
}

// Option applies a configuration option to a StageClock.
type Option func(*StageClock)

// WithAfterFunc replaces the timer primitive (tests use a manual one).
func WithAfterFunc(f AfterFunc) Option {
	return func(c *StageClock) {
		if f != nil {
			c.afterFunc = f
		}
	}
}

// WithNow replaces the time source used by Remaining.
func WithNow(now func() time.Time) Option {
	return func(c *StageClock) {
		if now != nil {
			c.now = now
		}
	}
}

// StageClock implements Clock on top of an AfterFunc timer.
type StageClock struct {
	state atomic.Int32

	mu       sync.Mutex
	deadline time.Time
	timer    Stopper
	handler  func()

	afterFunc AfterFunc
	now       func() time.Time
}

// New creates an idle clock.
func New(opts ...Option) *StageClock {
	c := &StageClock{
		afterFunc: func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start implements Clock.Start.
func (c *StageClock) Start(d time.Duration) error {
	if !c.state.CompareAndSwap(stateIdle, stateArmed) {
		if c.state.Load() == stateArmed {
			return ErrAlreadyArmed
		}
		return ErrSpent
	}
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.deadline = c.now().Add(d)
	c.mu.Unlock()

	// The timer may fire before it is stored; fire and Cancel rely on state only.
	t := c.afterFunc(d, c.fire)
	c.mu.Lock()
	c.timer = t
	c.mu.Unlock()
	return nil
}

// fire runs the handler if this call wins the armed -> fired transition.
func (c *StageClock) fire() {
	if !c.state.CompareAndSwap(stateArmed, stateFired) {
		return
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

// Remaining implements Clock.Remaining.
func (c *StageClock) Remaining() time.Duration {
	if c.state.Load() != stateArmed {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	left := c.deadline.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

// OnExpire implements Clock.OnExpire.
func (c *StageClock) OnExpire(fn func()) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Cancel implements Clock.Cancel.
func (c *StageClock) Cancel() {
	if !c.state.CompareAndSwap(stateArmed, stateCancelled) {
		return
	}
	c.mu.Lock()
	t := c.timer
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Fired reports whether the countdown elapsed and the handler was invoked.
func (c *StageClock) Fired() bool { return c.state.Load() == stateFired }

// Factory builds clocks for stages.
type Factory interface {
	NewClock() Clock
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() Clock

// NewClock implements Factory.
func (f FactoryFunc) NewClock() Clock { return f() }

// DefaultFactory returns a factory producing real-time StageClocks.
func DefaultFactory(opts ...Option) Factory {
	return FactoryFunc(func() Clock { return New(opts...) })
}
