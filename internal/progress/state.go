package progress

import (
	"time"

	"github.com/signalsfoundry/airroute-simulator/core"
	"github.com/signalsfoundry/airroute-simulator/model"
)

// Phase is the scheduler's position in its lifecycle.
type Phase int

const (
	// PhaseIdle means no route has been loaded yet.
	PhaseIdle Phase = iota
	// PhaseCruising means the flight is en route with timers armed.
	PhaseCruising
	// PhaseAwaitingReroute means a reroute request is in flight.
	PhaseAwaitingReroute
	// PhaseStalled means the last reroute failed. A retry may be pending.
	PhaseStalled
	// PhaseArrived is terminal.
	PhaseArrived
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCruising:
		return "cruising"
	case PhaseAwaitingReroute:
		return "awaiting_reroute"
	case PhaseStalled:
		return "stalled"
	case PhaseArrived:
		return "arrived"
	default:
		return "unknown"
	}
}

// State is one published view of the simulation. Route and Next are copies
// owned by the receiver; subscribers should still treat State as read-only
// since the same value is handed to every subscriber.
type State struct {
	RunID      string
	Generation uint64
	Phase      Phase

	Position core.Coordinate
	// Heading is the initial great-circle bearing towards Next, in degrees.
	Heading float64

	Route      model.Route
	Index      int
	Next       *model.Waypoint
	DepartedAt time.Time
	// Remaining is the estimated time to Next at the last evaluation.
	Remaining time.Duration

	DestinationReached bool

	// Err is the last reroute failure while Stalled.
	Err          error
	RetryPending bool
	RetryAt      time.Time
	Attempts     int

	// At is the simulation time of the transition.
	At time.Time
}

// TimerDeadlines reports which timers are armed; zero values mean unarmed.
type TimerDeadlines struct {
	Arrival time.Time
	Recheck time.Time
	Retry   time.Time
}

// Any reports whether at least one timer is armed.
func (d TimerDeadlines) Any() bool {
	return !d.Arrival.IsZero() || !d.Recheck.IsZero() || !d.Retry.IsZero()
}
