package progress

import (
	"time"

	"github.com/signalsfoundry/airroute-simulator/internal/events"
)

type timerKind int

const (
	timerArrival timerKind = iota
	timerRecheck
	timerRetry
)

type armedTimer struct {
	id string
	at time.Time
}

// timerSet is the single set of timers owned by a Scheduler. It is guarded
// by the scheduler mutex. Every cancelAll starts a new epoch; callbacks
// receive the epoch they were armed in so that a callback already popped by
// the event loop when its timer was cancelled can recognise itself as stale.
type timerSet struct {
	clock  events.EventScheduler
	epoch  uint64
	closed bool
	armed  map[timerKind]armedTimer
}

func newTimerSet(clock events.EventScheduler) *timerSet {
	return &timerSet{
		clock: clock,
		armed: make(map[timerKind]armedTimer),
	}
}

func (t *timerSet) arm(kind timerKind, at time.Time, fn func(epoch uint64)) {
	if t.closed {
		return
	}
	if prev, ok := t.armed[kind]; ok {
		t.clock.Cancel(prev.id)
	}
	epoch := t.epoch
	id := t.clock.Schedule(at, func() { fn(epoch) })
	t.armed[kind] = armedTimer{id: id, at: at}
}

func (t *timerSet) cancelAll() {
	for kind, tm := range t.armed {
		t.clock.Cancel(tm.id)
		delete(t.armed, kind)
	}
	t.epoch++
}

// close cancels everything and refuses further arming.
func (t *timerSet) close() {
	t.cancelAll()
	t.closed = true
}

func (t *timerSet) live(epoch uint64) bool {
	return !t.closed && epoch == t.epoch
}

func (t *timerSet) deadlines() TimerDeadlines {
	return TimerDeadlines{
		Arrival: t.armed[timerArrival].at,
		Recheck: t.armed[timerRecheck].at,
		Retry:   t.armed[timerRetry].at,
	}
}
