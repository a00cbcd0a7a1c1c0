package kb

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/airroute-simulator/model"
)

var (
	// ErrWaypointExists is returned when a waypoint ID is added twice.
	ErrWaypointExists = errors.New("waypoint already exists")
	// ErrUnknownWaypoint is returned when an ID is not present in the catalog.
	ErrUnknownWaypoint = errors.New("unknown waypoint")
	// ErrInvalidWaypoint is returned for waypoints that fail validation.
	ErrInvalidWaypoint = errors.New("invalid waypoint")
	// ErrSealed is returned when mutating a catalog after Seal.
	ErrSealed = errors.New("catalog is sealed")
)

// Catalog is an in-memory, thread-safe index of waypoints keyed by ID.
// It is filled once at load time and then sealed; lookups never reload data.
type Catalog struct {
	mu sync.RWMutex

	waypoints map[string]model.Waypoint
	sealed    bool
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		waypoints: make(map[string]model.Waypoint),
	}
}

// Add registers a waypoint. It returns an error if the ID already exists, the
// coordinates are not finite or out of range, or the catalog is sealed.
func (c *Catalog) Add(w model.Waypoint) error {
	if w.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidWaypoint)
	}
	if !finite(w.Latitude) || !finite(w.Longitude) {
		return fmt.Errorf("%w: %q has non-finite coordinates (%v, %v)", ErrInvalidWaypoint, w.ID, w.Latitude, w.Longitude)
	}
	if w.Latitude < -90 || w.Latitude > 90 || w.Longitude < -180 || w.Longitude > 180 {
		return fmt.Errorf("%w: %q has coordinates out of range (%v, %v)", ErrInvalidWaypoint, w.ID, w.Latitude, w.Longitude)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return ErrSealed
	}
	if _, exists := c.waypoints[w.ID]; exists {
		return fmt.Errorf("%w: %q", ErrWaypointExists, w.ID)
	}
	c.waypoints[w.ID] = w
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Seal makes the catalog immutable.
func (c *Catalog) Seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

// Get returns the waypoint with the given ID.
func (c *Catalog) Get(id string) (model.Waypoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.waypoints[id]
	return w, ok
}

// Len returns the number of waypoints in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waypoints)
}

// List returns a snapshot of all waypoints sorted by ID.
func (c *Catalog) List() []model.Waypoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.Waypoint, 0, len(c.waypoints))
	for _, w := range c.waypoints {
		res = append(res, w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Resolve maps an ordered list of IDs to a Route, preserving order. Every ID
// must be known; the first unknown one is reported via ErrUnknownWaypoint.
func (c *Catalog) Resolve(ids []string) (model.Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	route := make(model.Route, 0, len(ids))
	for _, id := range ids {
		w, ok := c.waypoints[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWaypoint, id)
		}
		route = append(route, w)
	}
	return route, nil
}
