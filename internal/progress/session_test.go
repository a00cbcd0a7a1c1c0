package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/airroute-simulator/internal/events"
	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/reroute"
	"github.com/signalsfoundry/airroute-simulator/model"
)

func newTestSession(t *testing.T, client reroute.Client) (*Session, *events.FakeEventScheduler, *recorder) {
	t.Helper()
	clock := events.NewFakeEventScheduler(testStart)
	session, err := NewSession(DefaultConfig(), clock, client, logging.Noop(), WithDispatcher(syncDispatch))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	rec := &recorder{}
	session.Subscribe(rec.record)
	t.Cleanup(session.Stop)
	return session, clock, rec
}

func TestSessionSubmitStartsFlight(t *testing.T) {
	client := &fakeClient{}
	client.push(model.Route{ccu, dxb, jfk}, nil)
	session, _, rec := newTestSession(t, client)

	sched, err := session.Submit(context.Background(), "CCU", "JFK")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if session.Current() != sched {
		t.Fatalf("Current() does not return the submitted scheduler")
	}

	reqs := client.Requests()
	if len(reqs) != 1 || reqs[0] != (reroute.Request{From: "CCU", To: "JFK"}) {
		t.Fatalf("initial request = %+v, want CCU->JFK without origin", reqs)
	}
	states := rec.all()
	if len(states) != 1 || states[0].Phase != PhaseCruising || states[0].RunID != sched.RunID() {
		t.Fatalf("session subscriber states = %+v", states)
	}
	if session.Snapshot().Phase != PhaseCruising {
		t.Fatalf("Snapshot phase = %s", session.Snapshot().Phase)
	}
}

func TestSessionResubmitReplacesFlight(t *testing.T) {
	client := &fakeClient{}
	client.push(model.Route{ccu, jfk}, nil)
	client.push(model.Route{dxb, lhr}, nil)
	session, clock, rec := newTestSession(t, client)

	first, err := session.Submit(context.Background(), "CCU", "JFK")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := session.Submit(context.Background(), "DXB", "LHR")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if first.RunID() == second.RunID() {
		t.Fatalf("resubmission reused run id %q", first.RunID())
	}
	if first.ArmedTimers().Any() {
		t.Fatalf("previous flight still has timers armed: %+v", first.ArmedTimers())
	}
	if pending := clock.Pending(); len(pending) != 2 {
		t.Fatalf("pending timers = %v, want only the new flight's arrival and recheck", pending)
	}

	clock.Advance(time.Minute)
	for _, st := range rec.all()[1:] {
		if st.RunID != second.RunID() {
			t.Fatalf("state from replaced flight published after resubmission: %+v", st)
		}
	}
	if err := first.Start(model.Route{ccu, jfk}); !errors.Is(err, ErrStopped) {
		t.Fatalf("replaced scheduler should be stopped, Start = %v", err)
	}
}

func TestSessionSubmitNoPath(t *testing.T) {
	client := &fakeClient{}
	client.push(model.Route{ccu, jfk}, nil)
	client.push(nil, fmt.Errorf("%w: No path found between CCU and XYZ", reroute.ErrNoPathFound))
	session, _, _ := newTestSession(t, client)

	running, err := session.Submit(context.Background(), "CCU", "JFK")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := session.Submit(context.Background(), "CCU", "XYZ"); !errors.Is(err, reroute.ErrNoPathFound) {
		t.Fatalf("Submit err = %v, want ErrNoPathFound", err)
	}
	if session.Current() != running || running.Snapshot().Phase != PhaseCruising {
		t.Fatalf("failed submission must leave the running flight in place")
	}
}

func TestSessionSubmitValidation(t *testing.T) {
	session, _, _ := newTestSession(t, &fakeClient{})
	if _, err := session.Submit(context.Background(), "", "JFK"); !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("Submit with blank origin = %v, want ErrInvalidSubmission", err)
	}
	if session.Snapshot().Phase != PhaseIdle {
		t.Fatalf("session without flights should report idle")
	}

	if _, err := NewSession(Config{}, events.NewFakeEventScheduler(testStart), &fakeClient{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewSession with zero config = %v, want ErrInvalidConfig", err)
	}
}
