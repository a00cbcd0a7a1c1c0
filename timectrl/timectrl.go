package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event scheduler
// and the progress scheduler depend on this abstraction rather than on a
// concrete controller so tests can drive time explicitly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick of simulation time per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances Tick*Scale of simulation time per Tick of wall-clock time.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Scale multiplies the simulation step in Accelerated mode. Values <= 1
	// behave like RealTime.
	Scale float64

	currentTime time.Time

	listeners []func(time.Time)
	waiters   []waiter
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		Scale:       1,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves simulation time to t and releases any After waiters that are
// now due. Listeners are not invoked.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.takeDueLocked(t)
	tc.mu.Unlock()

	fire(due, t)
}

// After returns a channel that will receive the current simulation time
// after the duration d has elapsed in simulation time. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	now := tc.currentTime
	deadline := now.Add(d)
	if d <= 0 {
		tc.mu.Unlock()
		ch <- now
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{deadline: deadline, ch: ch})
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked on every tick, in registration
// order, on the controller goroutine.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step returns the amount of simulation time covered by one tick.
func (tc *TimeController) Step() time.Duration {
	if tc.Mode == Accelerated && tc.Scale > 1 {
		return time.Duration(float64(tc.Tick) * tc.Scale)
	}
	return tc.Tick
}

// Start runs the controller in a separate goroutine until ctx is cancelled or
// the given amount of simulation time has elapsed (duration <= 0 runs until
// cancelled). It returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		step := tc.Step()
		elapsed := time.Duration(0)

		// In both modes we use a ticker for simplicity and determinism.
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			simTime = simTime.Add(step)
			elapsed += step

			tc.mu.Lock()
			tc.currentTime = simTime
			due := tc.takeDueLocked(simTime)
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			fire(due, simTime)
			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}

// takeDueLocked removes and returns waiters whose deadline is <= now.
// Caller must hold tc.mu.
func (tc *TimeController) takeDueLocked(now time.Time) []waiter {
	var due []waiter
	kept := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !w.deadline.After(now) {
			due = append(due, w)
			continue
		}
		kept = append(kept, w)
	}
	tc.waiters = kept
	return due
}

func fire(due []waiter, now time.Time) {
	for _, w := range due {
		w.ch <- now
	}
}
