package progress

import (
	"errors"
	"sync"

	"github.com/signalsfoundry/airroute-simulator/model"
)

var (
	// ErrEmptyRoute is returned when a route without waypoints is loaded.
	ErrEmptyRoute = errors.New("route must contain at least one waypoint")
	// ErrAtLastWaypoint is returned by Advance when there is no next waypoint.
	ErrAtLastWaypoint = errors.New("already at last waypoint")
)

// RouteStore holds the route being flown and the index of the waypoint last
// departed from. Routes are replaced wholesale and never patched in place.
type RouteStore struct {
	mu    sync.RWMutex
	route model.Route
	index int
}

// NewRouteStore returns an empty store.
func NewRouteStore() *RouteStore {
	return &RouteStore{}
}

// Replace swaps in a copy of route and resets the index to 0.
func (s *RouteStore) Replace(route model.Route) error {
	if len(route) == 0 {
		return ErrEmptyRoute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = route.Clone()
	s.index = 0
	return nil
}

// Current returns the waypoint last departed from.
func (s *RouteStore) Current() (model.Waypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atLocked(s.index)
}

// Next returns the waypoint after Current, or false at the end of the route.
func (s *RouteStore) Next() (model.Waypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atLocked(s.index + 1)
}

// First returns the first waypoint of the route.
func (s *RouteStore) First() (model.Waypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atLocked(0)
}

// Last returns the destination.
func (s *RouteStore) Last() (model.Waypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atLocked(len(s.route) - 1)
}

// Advance moves the index forward by one.
func (s *RouteStore) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index+1 >= len(s.route) {
		return ErrAtLastWaypoint
	}
	s.index++
	return nil
}

// Index returns the current index.
func (s *RouteStore) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Route returns a copy of the route.
func (s *RouteStore) Route() model.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route.Clone()
}

func (s *RouteStore) atLocked(i int) (model.Waypoint, bool) {
	if i < 0 || i >= len(s.route) {
		return model.Waypoint{}, false
	}
	return s.route[i], true
}
