// Package opsapi exposes the simulator's operator gRPC surface: the standard
// health service reflecting the flight's phase, with request-id, tracing and
// metrics interceptors.
package opsapi

import (
	"context"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/progress"
)

// ProgressService is the health service name reporting the flight's phase.
const ProgressService = "airroute.Progress"

// HealthReporter maps published progress states onto gRPC health statuses.
// The overall server ("") is SERVING for as long as the reporter lives.
type HealthReporter struct {
	srv *health.Server
	log logging.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthReporter returns a reporter with ProgressService NOT_SERVING until
// the first flight starts.
func NewHealthReporter(log logging.Logger) *HealthReporter {
	if log == nil {
		log = logging.Noop()
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(ProgressService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		srv:  srv,
		log:  log,
		last: healthpb.HealthCheckResponse_NOT_SERVING,
	}
}

// Server returns the health implementation to register on a gRPC server.
func (h *HealthReporter) Server() *health.Server { return h.srv }

// Observe updates ProgressService from a published state. It is safe to use
// directly as a progress subscriber.
func (h *HealthReporter) Observe(st progress.State) {
	status := StatusFor(st.Phase)

	h.mu.Lock()
	changed := status != h.last
	h.last = status
	h.mu.Unlock()

	if !changed {
		return
	}
	h.srv.SetServingStatus(ProgressService, status)
	fields := []logging.Field{
		logging.String("run_id", st.RunID),
		logging.String("phase", st.Phase.String()),
		logging.String("status", status.String()),
	}
	if st.Err != nil {
		fields = append(fields, logging.Err(st.Err))
	}
	h.log.Info(context.Background(), "progress health changed", fields...)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() { h.srv.Shutdown() }

// StatusFor reports SERVING while a flight is making progress or has landed,
// NOT_SERVING while idle or stalled.
func StatusFor(p progress.Phase) healthpb.HealthCheckResponse_ServingStatus {
	switch p {
	case progress.PhaseCruising, progress.PhaseAwaitingReroute, progress.PhaseArrived:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
