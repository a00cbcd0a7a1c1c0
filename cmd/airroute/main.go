package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/airroute-simulator/internal/config"
	"github.com/signalsfoundry/airroute-simulator/internal/events"
	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/observability"
	"github.com/signalsfoundry/airroute-simulator/internal/opsapi"
	"github.com/signalsfoundry/airroute-simulator/internal/progress"
	"github.com/signalsfoundry/airroute-simulator/internal/reroute"
	"github.com/signalsfoundry/airroute-simulator/kb"
	"github.com/signalsfoundry/airroute-simulator/timectrl"
)

// options are the command-line choices for one run.
type options struct {
	From          string
	To            string
	ExitOnArrival bool

	// CatalogSnapshot, when set, writes the loaded catalog there as msgpack
	// and returns without simulating.
	CatalogSnapshot string
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional; AIRROUTE_* env vars override it)")
	from := flag.String("from", "", "Origin waypoint id")
	to := flag.String("to", "", "Destination waypoint id")
	exitOnArrival := flag.Bool("exit-on-arrival", true, "Stop the simulator once the destination is reached")
	snapshot := flag.String("snapshot-catalog", "", "Write the loaded catalog as a msgpack snapshot to this path and exit")
	flag.Parse()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "airroute: %v\n", err)
		os.Exit(2)
	}
	cfg := loader.Current()

	level := new(slog.LevelVar)
	log := logging.New(cfg.Logging(level))

	loader.Watch(func(next *config.Config) {
		level.Set(logging.ParseLevel(next.Log.Level))
		log.Info(context.Background(), "config reloaded", logging.String("log_level", next.Log.Level))
	}, func(err error) {
		log.Warn(context.Background(), "ignoring invalid config change", logging.Err(err))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		From:            *from,
		To:              *to,
		ExitOnArrival:   *exitOnArrival,
		CatalogSnapshot: *snapshot,
	}, nil); err != nil {
		log.Error(ctx, "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the simulator and blocks until ctx is cancelled, the flight
// arrives (when requested) or a component fails. opsLis overrides
// cfg.Ops.GRPCAddr when non-nil.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, f options, opsLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	catalog, err := kb.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info(ctx, "loaded waypoint catalog",
		logging.String("path", cfg.Catalog.Path),
		logging.Int("count", catalog.Len()),
	)
	if f.CatalogSnapshot != "" {
		if err := snapshotCatalog(catalog, f.CatalogSnapshot); err != nil {
			return err
		}
		log.Info(ctx, "wrote catalog snapshot", logging.String("path", f.CatalogSnapshot))
		return nil
	}

	client, err := reroute.NewHTTPClient(cfg.RouteService.BaseURL, catalog,
		reroute.WithTimeout(cfg.RouteService.Timeout),
		reroute.WithLogger(log),
	)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	progressMetrics, err := observability.NewProgressCollector(reg)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}

	tc := newTimeController(cfg.Clock)
	clock := events.NewEventScheduler(tc)
	tc.AddListener(func(time.Time) { clock.RunDue() })

	session, err := progress.NewSession(cfg.Progress(), clock, client, log,
		progress.WithMetricsRecorder(progressMetrics),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	health := opsapi.NewHealthReporter(log)
	session.Subscribe(health.Observe)
	session.Subscribe(stateLogger(log))
	if f.ExitOnArrival {
		session.Subscribe(func(st progress.State) {
			if st.Phase == progress.PhaseArrived {
				cancel()
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	done := tc.Start(gctx, 0)
	g.Go(func() error {
		<-done
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		session.Stop()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(reg)}
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if opsLis == nil && cfg.Ops.GRPCAddr != "" {
		opsLis, err = net.Listen("tcp", cfg.Ops.GRPCAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("listen for ops gRPC on %s: %w", cfg.Ops.GRPCAddr, err)
		}
	}
	if opsLis != nil {
		server := opsapi.NewServer(opsapi.ServerConfig{Logger: log, Metrics: rpcMetrics, Health: health})
		g.Go(func() error {
			log.Info(gctx, "starting ops gRPC server", logging.String("addr", opsLis.Addr().String()))
			return server.Serve(opsLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			health.Shutdown()
			server.GracefulStop()
			return nil
		})
	}

	if f.From != "" || f.To != "" {
		g.Go(func() error {
			sched, err := session.Submit(gctx, f.From, f.To)
			if err != nil {
				return fmt.Errorf("submit %s -> %s: %w", f.From, f.To, err)
			}
			log.Info(gctx, "flight submitted",
				logging.String("run_id", sched.RunID()),
				logging.String("from", f.From),
				logging.String("to", f.To),
			)
			return nil
		})
	}

	err = g.Wait()
	log.Info(context.Background(), "simulator stopped", logging.String("phase", session.Snapshot().Phase.String()))
	return err
}

// snapshotCatalog writes catalog to path in the msgpack format kb.LoadFile
// reads back for .msgpack files.
func snapshotCatalog(catalog *kb.Catalog, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create catalog snapshot: %w", err)
	}
	if err := catalog.WriteMsgpack(out); err != nil {
		_ = out.Close()
		return fmt.Errorf("write catalog snapshot %q: %w", path, err)
	}
	return out.Close()
}

func newTimeController(cfg config.ClockConfig) *timectrl.TimeController {
	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, mode)
	if cfg.TimeScale > 0 {
		tc.Scale = cfg.TimeScale
	}
	return tc
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(reg))
	return mux
}

// stateLogger renders every published state as one structured line.
func stateLogger(log logging.Logger) func(progress.State) {
	return func(st progress.State) {
		fields := []logging.Field{
			logging.String("run_id", st.RunID),
			logging.String("phase", st.Phase.String()),
			logging.Int("index", st.Index),
			logging.Any("route", st.Route.IDs()),
			logging.Float("lat", st.Position.Lat),
			logging.Float("lon", st.Position.Lon),
			logging.Float("heading", st.Heading),
			logging.Duration("remaining", st.Remaining),
			logging.Time("sim_time", st.At),
		}
		if st.Next != nil {
			fields = append(fields, logging.String("next", st.Next.ID))
		}
		if st.RetryPending {
			fields = append(fields,
				logging.Int("attempts", st.Attempts),
				logging.Time("retry_at", st.RetryAt),
			)
		}
		if st.Err != nil {
			fields = append(fields, logging.Err(st.Err))
			log.Warn(context.Background(), "flight state", fields...)
			return
		}
		log.Info(context.Background(), "flight state", fields...)
	}
}
