// Package deferred provides a cancelable, re-armable deferred action used
// for every timer in the collaboration layer (inactivity demotions, editing
// timeouts, autosave flushes). Centralizing the arm/reset/cancel lifecycle
// keeps torn-down components from firing ghost timers.
package deferred

import (
	"sync"
	"time"
)

// Action runs a function once, a configurable delay after the most recent
// Arm call. Arming again before the delay elapses restarts the countdown.
// After Cancel the function is guaranteed not to run until re-armed, even
// if the underlying timer had already expired concurrently.
type Action struct {
	mu    sync.Mutex
	fn    func()
	timer *time.Timer
	gen   uint64
}

// New creates an Action for fn. The action is initially disarmed.
func New(fn func()) *Action {
	return &Action{fn: fn}
}

// Arm schedules the action to run after d, replacing any pending schedule.
func (a *Action) Arm(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, func() {
		a.fire(gen)
	})
}

// Cancel stops any pending schedule. It is safe to call repeatedly and
// after the action has fired.
func (a *Action) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Pending reports whether the action is currently scheduled.
func (a *Action) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

func (a *Action) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		// re-armed or canceled after this timer expired
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	a.fn()
}
