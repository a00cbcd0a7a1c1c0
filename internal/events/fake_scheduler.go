package events

import (
	"fmt"
	"sync"
	"time"
)

// FakeEventScheduler is a test implementation of EventScheduler that keeps
// its own notion of simulation time. Tests call AdvanceTo(t) to move fake time
// forward and execute due events deterministically on the calling goroutine.
type FakeEventScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	// Events ordered by 'when' (earliest first).
	events []*fakeScheduledEvent
	index  map[string]*fakeScheduledEvent
}

type fakeScheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// NewFakeEventScheduler creates a new fake event scheduler starting at the given time.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:    start,
		events: make([]*fakeScheduledEvent, 0),
		index:  make(map[string]*fakeScheduledEvent),
	}
}

// Now returns the current fake simulation time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the specified simulation time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)

	ev := &fakeScheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}

	inserted := false
	for i, existing := range s.events {
		if at.Before(existing.when) {
			s.events = append(s.events[:i], append([]*fakeScheduledEvent{ev}, s.events[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		s.events = append(s.events, ev)
	}

	s.index[id] = ev
	return id
}

// Cancel attempts to cancel a previously scheduled event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}

	ev.cancelled = true
	delete(s.index, id)
}

// Pending returns the deadlines of all events that are scheduled and not
// cancelled, earliest first.
func (s *FakeEventScheduler) Pending() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []time.Time
	for _, ev := range s.events {
		if !ev.cancelled {
			out = append(out, ev.when)
		}
	}
	return out
}

// RunDue executes all events whose scheduled time is <= now.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()

		if len(s.events) == 0 {
			s.mu.Unlock()
			return
		}

		ev := s.events[0]
		if ev.when.After(s.now) {
			s.mu.Unlock()
			return
		}

		s.events = s.events[1:]

		if ev.cancelled {
			s.mu.Unlock()
			continue
		}

		delete(s.index, ev.id)

		callback := ev.f
		s.mu.Unlock()

		if callback != nil {
			callback()
		}
	}
}

// AdvanceTo sets the fake simulation time to the given time and executes all due events.
// Time is kept monotonic (does not go backwards).
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.Before(s.now) {
		s.mu.Unlock()
		return
	}
	s.now = t
	s.mu.Unlock()

	s.RunDue()
}

// Advance moves fake time forward by d and executes all due events.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
