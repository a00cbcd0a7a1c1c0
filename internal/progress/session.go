package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/airroute-simulator/internal/events"
	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/reroute"
)

// ErrInvalidSubmission is returned by Submit for blank endpoints.
var ErrInvalidSubmission = errors.New("origin and destination are required")

// Session owns the scheduler of the flight currently being simulated. Each
// submission stops the previous scheduler and replaces it with a new one, so
// no two runs ever publish concurrently.
type Session struct {
	cfg    Config
	clock  events.EventScheduler
	client reroute.Client
	opts   []Option
	log    logging.Logger

	// submitMu serialises whole submissions, including the initial request.
	submitMu sync.Mutex

	mu      sync.Mutex
	current *Scheduler

	subsMu  sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewSession validates cfg and returns a session with no active flight. The
// options are applied to every scheduler the session creates.
func NewSession(cfg Config, clock events.EventScheduler, client reroute.Client, log logging.Logger, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil || client == nil {
		return nil, fmt.Errorf("%w: event scheduler and reroute client are required", ErrInvalidConfig)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Session{
		cfg:    cfg,
		clock:  clock,
		client: client,
		opts:   append([]Option{WithLogger(log)}, opts...),
		log:    log,
		subs:   make(map[int]func(State)),
	}, nil
}

// Submit requests the initial route from origin to destination and starts a
// new flight on it, stopping any previous one. Route service errors are
// returned unchanged so the caller can tell "no path" from transient failures;
// on error the previous flight keeps running.
func (s *Session) Submit(ctx context.Context, origin, destination string) (*Scheduler, error) {
	if origin == "" || destination == "" {
		return nil, ErrInvalidSubmission
	}
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	reqCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	route, err := s.client.RequestRoute(reqCtx, reroute.Request{From: origin, To: destination})
	if err != nil {
		s.log.Warn(ctx, "route submission failed",
			logging.String("origin", origin),
			logging.String("destination", destination),
			logging.Err(err),
		)
		return nil, err
	}

	sched, err := NewScheduler(s.cfg, s.clock, s.client, s.opts...)
	if err != nil {
		return nil, err
	}
	sched.Subscribe(s.fanout)

	s.mu.Lock()
	prev := s.current
	s.current = sched
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	if err := sched.Start(route); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "route submitted",
		logging.String("run_id", sched.RunID()),
		logging.Any("route", route.IDs()),
	)
	return sched, nil
}

// Current returns the active scheduler, or nil before the first submission.
func (s *Session) Current() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Snapshot returns the last state published by the active flight.
func (s *Session) Snapshot() State {
	if cur := s.Current(); cur != nil {
		return cur.Snapshot()
	}
	return State{Phase: PhaseIdle}
}

// Subscribe registers fn for states of every flight this session runs.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Stop stops the active flight, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.Stop()
	}
}

func (s *Session) fanout(st State) {
	s.subsMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}
