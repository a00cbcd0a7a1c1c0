package opsapi

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/observability"
)

// ServerConfig wires the ops server's collaborators. Nil fields are skipped.
type ServerConfig struct {
	Logger  logging.Logger
	Metrics *observability.RPCCollector
	Health  *HealthReporter
}

// NewServer builds a gRPC server with the health service registered and the
// request-id, tracing and metrics interceptors chained in that order.
func NewServer(cfg ServerConfig, opts ...grpc.ServerOption) *grpc.Server {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if cfg.Metrics != nil {
		interceptors = append(interceptors, cfg.Metrics.UnaryServerInterceptor())
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)
	server := grpc.NewServer(serverOpts...)

	hr := cfg.Health
	if hr == nil {
		hr = NewHealthReporter(log)
	}
	healthpb.RegisterHealthServer(server, hr.Server())
	return server
}
