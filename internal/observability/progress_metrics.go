package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reroute outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeNoPath       = "no_path"
	OutcomeTransport    = "transport"
	OutcomeMalformed    = "malformed"
	OutcomeInvalidRoute = "invalid_route"
)

// ProgressCollector exposes flight progress and reroute metrics.
type ProgressCollector struct {
	gatherer prometheus.Gatherer

	RerouteRequests  *prometheus.CounterVec
	RerouteDuration  prometheus.Histogram
	RetriesScheduled prometheus.Counter
	StaleResponses   prometheus.Counter
	Arrivals         prometheus.Counter
	Phase            *prometheus.GaugeVec
	RemainingSeconds prometheus.Gauge
}

// NewProgressCollector registers progress metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewProgressCollector(reg prometheus.Registerer) (*ProgressCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airroute_reroute_requests_total",
		Help: "Completed reroute requests, labeled by outcome.",
	}, []string{"outcome"}), "airroute_reroute_requests_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "airroute_reroute_duration_seconds",
		Help:    "Wall-clock latency of reroute requests against the route service.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "airroute_reroute_duration_seconds")
	if err != nil {
		return nil, err
	}

	retries, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airroute_reroute_retries_total",
		Help: "Reroute retries scheduled after a retryable failure.",
	}), "airroute_reroute_retries_total")
	if err != nil {
		return nil, err
	}

	stale, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airroute_reroute_stale_responses_total",
		Help: "Reroute completions discarded because the run moved on before they arrived.",
	}), "airroute_reroute_stale_responses_total")
	if err != nil {
		return nil, err
	}

	arrivals, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airroute_waypoint_arrivals_total",
		Help: "Waypoints reached by the simulated flight.",
	}), "airroute_waypoint_arrivals_total")
	if err != nil {
		return nil, err
	}

	phase, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airroute_phase",
		Help: "Current scheduler phase; the active phase reports 1.",
	}, []string{"phase"}), "airroute_phase")
	if err != nil {
		return nil, err
	}

	remaining, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airroute_leg_remaining_seconds",
		Help: "Estimated time left until the next waypoint at the last evaluation.",
	}), "airroute_leg_remaining_seconds")
	if err != nil {
		return nil, err
	}

	return &ProgressCollector{
		gatherer:         gathererFor(reg),
		RerouteRequests:  requests,
		RerouteDuration:  duration,
		RetriesScheduled: retries,
		StaleResponses:   stale,
		Arrivals:         arrivals,
		Phase:            phase,
		RemainingSeconds: remaining,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ProgressCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveReroute records the outcome and latency of one reroute request.
func (c *ProgressCollector) ObserveReroute(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.RerouteRequests != nil {
		c.RerouteRequests.WithLabelValues(outcome).Inc()
	}
	if c.RerouteDuration != nil {
		c.RerouteDuration.Observe(d.Seconds())
	}
}

// IncRetries increments the scheduled retry counter.
func (c *ProgressCollector) IncRetries() {
	if c == nil || c.RetriesScheduled == nil {
		return
	}
	c.RetriesScheduled.Inc()
}

// IncStaleResponses increments the discarded completion counter.
func (c *ProgressCollector) IncStaleResponses() {
	if c == nil || c.StaleResponses == nil {
		return
	}
	c.StaleResponses.Inc()
}

// IncArrivals increments the waypoint arrival counter.
func (c *ProgressCollector) IncArrivals() {
	if c == nil || c.Arrivals == nil {
		return
	}
	c.Arrivals.Inc()
}

// SetPhase marks phase as the only active phase.
func (c *ProgressCollector) SetPhase(phase string) {
	if c == nil || c.Phase == nil {
		return
	}
	c.Phase.Reset()
	c.Phase.WithLabelValues(phase).Set(1)
}

// SetRemaining updates the remaining leg time gauge. Negative values are
// reported as zero.
func (c *ProgressCollector) SetRemaining(d time.Duration) {
	if c == nil || c.RemainingSeconds == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	c.RemainingSeconds.Set(d.Seconds())
}
