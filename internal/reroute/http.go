package reroute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	shortestPathPath = "/shortest_path"
	maxResponseBytes = 1 << 20
	tracerName       = "github.com/signalsfoundry/airroute-simulator/internal/reroute"
)

// Resolver maps route service waypoint ids onto catalog waypoints.
type Resolver interface {
	Resolve(ids []string) (model.Route, error)
}

// HTTPClient talks to the route service over HTTP.
type HTTPClient struct {
	base     *url.URL
	resolver Resolver
	client   *http.Client
	log      logging.Logger
	tracer   trace.Tracer
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds every request, in addition to any context deadline.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option {
	return func(h *HTTPClient) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHTTPClient returns a client for the route service rooted at baseURL.
// Route ids in replies are resolved through resolver.
func NewHTTPClient(baseURL string, resolver Resolver, opts ...Option) (*HTTPClient, error) {
	if resolver == nil {
		return nil, fmt.Errorf("reroute: resolver is required")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("reroute: parse base url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("reroute: base url %q must be http or https", baseURL)
	}

	h := &HTTPClient{
		base:     base,
		resolver: resolver,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type shortestPathRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type shortestPathResponse struct {
	Route []string `json:"route"`
	Error *string  `json:"error"`
}

// RequestRoute asks the service for the shortest path between req.From and
// req.To and resolves the answer against the catalog.
func (h *HTTPClient) RequestRoute(ctx context.Context, req Request) (model.Route, error) {
	ctx, span := h.tracer.Start(ctx, "reroute.RequestRoute", trace.WithAttributes(
		attribute.String("airroute.from", req.From),
		attribute.String("airroute.to", req.To),
		attribute.String("airroute.origin", req.Origin),
	))
	defer span.End()

	route, err := h.requestRoute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("airroute.route_len", len(route)))
	return route, nil
}

func (h *HTTPClient) requestRoute(ctx context.Context, req Request) (model.Route, error) {
	u := *h.base
	u.Path += shortestPathPath
	q := url.Values{}
	q.Set("start", req.From)
	q.Set("end", req.To)
	if req.Origin != "" {
		q.Set("prev", req.Origin)
	}
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(shortestPathRequest{Start: req.From, End: req.To})
	if err != nil {
		return nil, fmt.Errorf("reroute: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reroute: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: route service returned %d", ErrTransport, resp.StatusCode)
	}

	var parsed shortestPathResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPathFound, *parsed.Error)
	}
	if len(parsed.Route) == 0 {
		return nil, fmt.Errorf("%w: empty route", ErrMalformedResponse)
	}

	route, err := h.resolver.Resolve(parsed.Route)
	if err != nil {
		h.log.Warn(ctx, "route service returned unresolvable waypoints",
			logging.Any("route", parsed.Route),
			logging.Err(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRouteData, err)
	}

	h.log.Debug(ctx, "route received",
		logging.String("from", req.From),
		logging.String("to", req.To),
		logging.Any("route", parsed.Route),
	)
	return route, nil
}
