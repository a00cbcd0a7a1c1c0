package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/airroute-simulator/internal/config"
	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/opsapi"
	"github.com/signalsfoundry/airroute-simulator/internal/reroute"
	"github.com/signalsfoundry/airroute-simulator/kb"
)

const testCatalog = `{"airports":[
  {"id":"CCU","name":"Kolkata","Latitude":22.57,"Longitude":88.36},
  {"id":"DXB","name":"Dubai","Latitude":25.25,"Longitude":55.36},
  {"id":"JFK","name":"New York JFK","Latitude":40.71,"Longitude":-74.01}
]}`

// routeService answers shortest_path queries from a fixed table.
type routeService struct {
	mu       sync.Mutex
	routes   map[[2]string][]string
	requests [][2]string
}

func (r *routeService) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start, end := req.URL.Query().Get("start"), req.URL.Query().Get("end")
	r.mu.Lock()
	r.requests = append(r.requests, [2]string{start, end})
	route, ok := r.routes[[2]string{start, end}]
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "No path found between " + start + " and " + end})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string][]string{"route": route})
}

func (r *routeService) Requests() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.requests...)
}

func newTestConfig(t *testing.T, routes *routeService) *config.Config {
	t.Helper()

	catalogPath := filepath.Join(t.TempDir(), "airports.json")
	if err := os.WriteFile(catalogPath, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	srv := httptest.NewServer(routes)
	t.Cleanup(srv.Close)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Catalog.Path = catalogPath
	cfg.RouteService.BaseURL = srv.URL
	cfg.Metrics.Addr = ""
	cfg.Ops.GRPCAddr = ""
	// Ten simulated minutes per 2ms tick.
	cfg.Clock = config.ClockConfig{Tick: 2 * time.Millisecond, Accelerated: true, TimeScale: 300000}
	return cfg
}

func runAsync(ctx context.Context, cfg *config.Config, f options, lis net.Listener) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), f, lis)
	}()
	return errCh
}

func TestRunFliesToDestination(t *testing.T) {
	routes := &routeService{routes: map[[2]string][]string{
		{"CCU", "JFK"}: {"CCU", "DXB", "JFK"},
		{"DXB", "JFK"}: {"DXB", "JFK"},
		{"JFK", "JFK"}: {"JFK"},
	}}
	cfg := newTestConfig(t, routes)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	select {
	case err := <-runAsync(ctx, cfg, options{From: "CCU", To: "JFK", ExitOnArrival: true}, nil):
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("flight did not arrive before the deadline")
	}

	// Every reroute inside the lookahead window moves the flight on by one
	// waypoint; the last one answers with the destination alone.
	want := [][2]string{{"CCU", "JFK"}, {"DXB", "JFK"}, {"JFK", "JFK"}}
	if reqs := routes.Requests(); fmt.Sprint(reqs) != fmt.Sprint(want) {
		t.Fatalf("route service requests = %v, want %v", reqs, want)
	}
}

func TestRunReportsNoPath(t *testing.T) {
	cfg := newTestConfig(t, &routeService{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := <-runAsync(ctx, cfg, options{From: "CCU", To: "JFK", ExitOnArrival: true}, nil)
	if !errors.Is(err, reroute.ErrNoPathFound) {
		t.Fatalf("run err = %v, want ErrNoPathFound", err)
	}
}

func TestRunServesOpsHealth(t *testing.T) {
	routes := &routeService{routes: map[[2]string][]string{
		{"CCU", "JFK"}: {"CCU", "DXB", "JFK"},
	}}
	cfg := newTestConfig(t, routes)
	cfg.Clock = config.ClockConfig{Tick: 10 * time.Millisecond, TimeScale: 1}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := runAsync(ctx, cfg, options{From: "CCU", To: "JFK"}, lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: opsapi.ProgressService})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("progress never reported SERVING (last err %v)", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error after cancel: %v", err)
	}
}

func TestRunRejectsMissingCatalog(t *testing.T) {
	cfg := newTestConfig(t, &routeService{})
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.json")

	if err := run(context.Background(), cfg, logging.Noop(), options{}, nil); err == nil {
		t.Fatalf("expected error for missing catalog")
	}
}

func TestRunWritesCatalogSnapshot(t *testing.T) {
	routes := &routeService{}
	cfg := newTestConfig(t, routes)
	path := filepath.Join(t.TempDir(), "airports.msgpack")

	if err := run(context.Background(), cfg, logging.Noop(), options{CatalogSnapshot: path}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	loaded, err := kb.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(snapshot): %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("snapshot holds %d waypoints, want 3", loaded.Len())
	}
	if dxb, ok := loaded.Get("DXB"); !ok || dxb.Latitude != 25.25 || dxb.Longitude != 55.36 {
		t.Fatalf("DXB in snapshot = %#v", dxb)
	}
	if got := routes.Requests(); len(got) != 0 {
		t.Fatalf("snapshot run contacted the route service: %v", got)
	}
}

func TestRunReportsSnapshotWriteFailure(t *testing.T) {
	cfg := newTestConfig(t, &routeService{})
	path := filepath.Join(t.TempDir(), "missing-dir", "airports.msgpack")

	if err := run(context.Background(), cfg, logging.Noop(), options{CatalogSnapshot: path}, nil); err == nil {
		t.Fatalf("expected error writing snapshot into a missing directory")
	}
}
