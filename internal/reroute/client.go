// Package reroute is the boundary to the external route-finding service.
package reroute

import (
	"context"
	"errors"

	"github.com/signalsfoundry/airroute-simulator/model"
)

var (
	// ErrTransport covers connection failures, timeouts and non-2xx replies.
	ErrTransport = errors.New("route service transport failure")
	// ErrNoPathFound is reported by the service when it cannot connect the
	// requested waypoints. It is not retried.
	ErrNoPathFound = errors.New("no path found")
	// ErrMalformedResponse means the reply could not be decoded or carried an
	// empty route.
	ErrMalformedResponse = errors.New("malformed route service response")
	// ErrInvalidRouteData means the reply named waypoints the catalog does
	// not know.
	ErrInvalidRouteData = errors.New("route references unknown waypoints")
)

// Request asks for a route from From to To. Origin is the first waypoint of
// the route being flown and is empty for an initial submission.
type Request struct {
	From   string
	To     string
	Origin string
}

// Client requests routes from the route-finding service. Implementations
// block until the service answers or ctx is done.
type Client interface {
	RequestRoute(ctx context.Context, req Request) (model.Route, error)
}

// Retryable reports whether a failed request may succeed if repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrInvalidRouteData)
}
