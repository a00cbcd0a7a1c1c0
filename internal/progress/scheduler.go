package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/airroute-simulator/core"
	"github.com/signalsfoundry/airroute-simulator/internal/events"
	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/observability"
	"github.com/signalsfoundry/airroute-simulator/internal/reroute"
	"github.com/signalsfoundry/airroute-simulator/model"
)

var (
	// ErrNotIdle is returned by Start on a scheduler that already has a route.
	ErrNotIdle = errors.New("scheduler already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("scheduler stopped")
	// ErrDegenerateLeg means the ETA of the current leg is not a finite
	// duration. State is left untouched.
	ErrDegenerateLeg = errors.New("degenerate leg")
	// ErrRetriesExhausted wraps the last failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("reroute retries exhausted")
)

const tracerName = "github.com/signalsfoundry/airroute-simulator/internal/progress"

// MetricsRecorder receives scheduler measurements.
type MetricsRecorder interface {
	ObserveReroute(outcome string, d time.Duration)
	IncRetries()
	IncStaleResponses()
	IncArrivals()
	SetPhase(phase string)
	SetRemaining(d time.Duration)
}

// Dispatcher runs a blocking reroute call off the event loop.
type Dispatcher func(func())

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDispatcher replaces the default goroutine-per-request dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) {
		if d != nil {
			s.dispatch = d
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.runID = id
		}
	}
}

// Scheduler drives one simulated flight along its route. All transitions run
// as callbacks on the shared EventScheduler and are serialised by mu. The
// reroute call is the only work done off the loop; its result is posted back
// onto the loop tagged with the generation it was issued under.
type Scheduler struct {
	cfg      Config
	clock    events.EventScheduler
	client   reroute.Client
	log      logging.Logger
	metrics  MetricsRecorder
	dispatch Dispatcher
	tracer   trace.Tracer
	runID    string

	// ctx is cancelled by Stop and parents every reroute request.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	store      *RouteStore
	timers     *timerSet
	phase      Phase
	position   core.Coordinate
	departedAt time.Time
	remaining  time.Duration
	generation uint64
	stopped    bool

	attempts int
	retryAt  time.Time
	lastErr  error
	backoff  *backoff.ExponentialBackOff

	subsMu  sync.Mutex
	subs    map[int]func(State)
	nextSub int

	last atomic.Pointer[State]
}

// NewScheduler validates cfg and returns an idle scheduler.
func NewScheduler(cfg Config, clock events.EventScheduler, client reroute.Client, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: event scheduler is required", ErrInvalidConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: reroute client is required", ErrInvalidConfig)
	}

	s := &Scheduler{
		cfg:      cfg,
		clock:    clock,
		client:   client,
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		dispatch: func(f func()) { go f() },
		tracer:   otel.Tracer(tracerName),
		runID:    uuid.NewString(),
		store:    NewRouteStore(),
		timers:   newTimerSet(clock),
		subs:     make(map[int]func(State)),
		backoff:  cfg.Retry.newBackOff(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("run_id", s.runID))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.metrics.SetPhase(PhaseIdle.String())
	return s, nil
}

// RunID identifies this scheduler instance in logs and published state.
func (s *Scheduler) RunID() string { return s.runID }

// Start loads route and evaluates it immediately.
func (s *Scheduler) Start(route model.Route) error {
	return s.StartAt(route, s.clock.Now())
}

// StartAt is Start for a flight that departed the first waypoint at
// departedAt, which may lie in the past.
func (s *Scheduler) StartAt(route model.Route, departedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.phase != PhaseIdle {
		return ErrNotIdle
	}
	if err := s.store.Replace(route); err != nil {
		return err
	}
	s.position = route[0].Coordinate()
	s.departedAt = departedAt
	s.generation++

	s.log.Info(s.ctx, "flight started",
		logging.Any("route", route.IDs()),
		logging.Time("departed_at", departedAt),
	)
	s.evaluateLocked()
	return nil
}

// Stop cancels every timer and any in-flight request. No state is published
// after Stop returns. Stop must not be called from a subscriber.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.generation++
	s.timers.close()
	s.cancel()
	s.log.Info(s.ctx, "flight stopped", logging.String("phase", s.phase.String()))
}

// Subscribe registers fn for every published state and returns a function
// that removes it. Subscribers run on the event loop and must not block.
func (s *Scheduler) Subscribe(fn func(State)) (unsubscribe func()) {
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

// Snapshot returns the last published state.
func (s *Scheduler) Snapshot() State {
	if st := s.last.Load(); st != nil {
		return *st
	}
	return State{RunID: s.runID, Phase: PhaseIdle}
}

// ArmedTimers reports the deadlines of the timers currently armed.
func (s *Scheduler) ArmedTimers() TimerDeadlines {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.deadlines()
}

// evaluateLocked decides between waiting for arrival and requesting a
// reroute for the current leg.
func (s *Scheduler) evaluateLocked() {
	s.timers.cancelAll()
	now := s.clock.Now()

	cur, _ := s.store.Current()
	nxt, ok := s.store.Next()
	if !ok {
		s.phase = PhaseArrived
		s.position = cur.Coordinate()
		s.remaining = 0
		s.retryAt = time.Time{}
		s.timers.close()
		s.log.Info(s.ctx, "destination reached", logging.String("waypoint", cur.ID))
		s.publishLocked(now)
		return
	}

	distance := core.DistanceKm(cur.Coordinate(), nxt.Coordinate())
	if !representableLeg(core.TravelTimeHours(distance, s.cfg.SpeedKmh)) {
		s.phase = PhaseStalled
		s.retryAt = time.Time{}
		s.lastErr = fmt.Errorf("%w: %s -> %s", ErrDegenerateLeg, cur.ID, nxt.ID)
		s.log.Error(s.ctx, "cannot estimate leg", logging.Err(s.lastErr))
		s.publishLocked(now)
		return
	}
	eta := core.TravelDuration(distance, s.cfg.SpeedKmh)
	remaining := eta - now.Sub(s.departedAt)
	s.remaining = remaining

	if remaining <= s.cfg.Lookahead {
		s.requestRerouteLocked(now, cur, nxt)
		return
	}

	s.phase = PhaseCruising
	s.timers.arm(timerArrival, now.Add(remaining), s.onArrival)
	s.timers.arm(timerRecheck, now.Add(s.cfg.RecheckPeriod), s.onRecheck)
	s.log.Debug(s.ctx, "cruising",
		logging.String("from", cur.ID),
		logging.String("to", nxt.ID),
		logging.Duration("remaining", remaining),
	)
	s.publishLocked(now)
}

// representableLeg reports whether a leg of the given hours fits in a
// time.Duration. float64(math.MaxInt64) rounds up to 2^63, so equality fails.
func representableLeg(hours float64) bool {
	ns := hours * float64(time.Hour)
	return !math.IsNaN(ns) && !math.IsInf(ns, 0) && ns < math.MaxInt64
}

func (s *Scheduler) onArrival(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timers.live(epoch) {
		return
	}
	s.timers.cancelAll()

	nxt, ok := s.store.Next()
	if !ok || s.store.Advance() != nil {
		// Already on the last waypoint: evaluation settles Arrived.
		s.evaluateLocked()
		return
	}
	s.position = nxt.Coordinate()
	s.departedAt = s.clock.Now()
	s.metrics.IncArrivals()
	s.log.Info(s.ctx, "waypoint reached",
		logging.String("waypoint", nxt.ID),
		logging.Int("index", s.store.Index()),
	)
	s.evaluateLocked()
}

func (s *Scheduler) onRecheck(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timers.live(epoch) {
		return
	}
	s.evaluateLocked()
}

func (s *Scheduler) onRetry(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timers.live(epoch) {
		return
	}
	s.retryAt = time.Time{}
	s.log.Info(s.ctx, "retrying reroute", logging.Int("attempt", s.attempts))
	s.evaluateLocked()
}

func (s *Scheduler) requestRerouteLocked(now time.Time, cur, nxt model.Waypoint) {
	first, _ := s.store.First()
	last, _ := s.store.Last()
	req := reroute.Request{From: nxt.ID, To: last.ID, Origin: first.ID}

	s.phase = PhaseAwaitingReroute
	s.log.Info(s.ctx, "requesting reroute",
		logging.String("from", req.From),
		logging.String("to", req.To),
		logging.String("origin", req.Origin),
		logging.Duration("remaining", s.remaining),
	)
	s.publishLocked(now)

	gen := s.generation
	parent := s.ctx
	timeout := s.cfg.RequestTimeout
	s.dispatch(func() {
		ctx, span := s.tracer.Start(parent, "progress.reroute", trace.WithAttributes(
			attribute.String("airroute.run_id", s.runID),
			attribute.Int64("airroute.generation", int64(gen)),
			attribute.String("airroute.from", req.From),
			attribute.String("airroute.to", req.To),
		))
		defer span.End()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		started := time.Now()
		route, err := s.client.RequestRoute(ctx, req)
		took := time.Since(started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.clock.Schedule(s.clock.Now(), func() {
			s.onRerouteDone(gen, route, err, took)
		})
	})
}

func (s *Scheduler) onRerouteDone(gen uint64, route model.Route, err error, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.generation || s.phase != PhaseAwaitingReroute {
		s.metrics.IncStaleResponses()
		s.log.Debug(s.ctx, "discarding stale reroute response",
			logging.Int("issued_generation", int(gen)),
			logging.Int("generation", int(s.generation)),
		)
		return
	}

	if err == nil && len(route) == 0 {
		err = fmt.Errorf("%w: empty route", reroute.ErrMalformedResponse)
	}
	if err != nil && !reroute.Retryable(err) && !errors.Is(err, reroute.ErrNoPathFound) {
		err = fmt.Errorf("%w: %w", reroute.ErrTransport, err)
	}
	s.metrics.ObserveReroute(outcomeFor(err), took)

	now := s.clock.Now()
	if err != nil {
		s.failLocked(now, err)
		return
	}

	if rerr := s.store.Replace(route); rerr != nil {
		s.failLocked(now, fmt.Errorf("%w: %v", reroute.ErrMalformedResponse, rerr))
		return
	}
	s.generation++
	s.position = route[0].Coordinate()
	s.departedAt = now
	s.attempts = 0
	s.retryAt = time.Time{}
	s.lastErr = nil
	s.backoff.Reset()
	s.log.Info(s.ctx, "route replaced",
		logging.Any("route", route.IDs()),
		logging.Duration("took", took),
	)
	s.evaluateLocked()
}

// failLocked applies the retry policy to a failed reroute. The route and
// simulation state are not touched.
func (s *Scheduler) failLocked(now time.Time, err error) {
	s.phase = PhaseStalled
	s.retryAt = time.Time{}

	if !reroute.Retryable(err) {
		s.lastErr = err
		s.log.Warn(s.ctx, "reroute rejected; stalling", logging.Err(err))
		s.publishLocked(now)
		return
	}

	if errors.Is(err, reroute.ErrInvalidRouteData) {
		s.log.Warn(s.ctx, "route service returned waypoints missing from the catalog", logging.Err(err))
	}

	if s.attempts >= s.cfg.Retry.MaxRetries {
		s.lastErr = fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, s.attempts, err)
		s.log.Error(s.ctx, "giving up on reroute", logging.Err(s.lastErr))
		s.publishLocked(now)
		return
	}

	if s.attempts == 0 {
		s.backoff.Reset()
	}
	s.attempts++
	s.lastErr = err
	s.retryAt = now.Add(s.backoff.NextBackOff())
	s.timers.arm(timerRetry, s.retryAt, s.onRetry)
	s.metrics.IncRetries()
	s.log.Warn(s.ctx, "reroute failed; retry scheduled",
		logging.Err(err),
		logging.Int("attempt", s.attempts),
		logging.Time("retry_at", s.retryAt),
	)
	s.publishLocked(now)
}

func (s *Scheduler) publishLocked(now time.Time) {
	if s.stopped {
		return
	}
	st := s.stateLocked(now)
	s.last.Store(&st)
	s.metrics.SetPhase(st.Phase.String())
	s.metrics.SetRemaining(st.Remaining)

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

func (s *Scheduler) stateLocked(now time.Time) State {
	st := State{
		RunID:              s.runID,
		Generation:         s.generation,
		Phase:              s.phase,
		Position:           s.position,
		Route:              s.store.Route(),
		Index:              s.store.Index(),
		DepartedAt:         s.departedAt,
		Remaining:          s.remaining,
		DestinationReached: s.phase == PhaseArrived,
		Attempts:           s.attempts,
		At:                 now,
	}
	if nxt, ok := s.store.Next(); ok {
		st.Next = &nxt
		st.Heading = core.InitialBearingDeg(s.position, nxt.Coordinate())
	}
	if s.phase == PhaseStalled {
		st.Err = s.lastErr
		st.RetryPending = !s.retryAt.IsZero()
		st.RetryAt = s.retryAt
	}
	return st
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, reroute.ErrNoPathFound):
		return observability.OutcomeNoPath
	case errors.Is(err, reroute.ErrInvalidRouteData):
		return observability.OutcomeInvalidRoute
	case errors.Is(err, reroute.ErrMalformedResponse):
		return observability.OutcomeMalformed
	default:
		return observability.OutcomeTransport
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveReroute(string, time.Duration) {}
func (noopMetrics) IncRetries()                          {}
func (noopMetrics) IncStaleResponses()                   {}
func (noopMetrics) IncArrivals()                         {}
func (noopMetrics) SetPhase(string)                      {}
func (noopMetrics) SetRemaining(time.Duration)           {}
