package model

import (
	"slices"

	"github.com/signalsfoundry/airroute-simulator/core"
)

// Waypoint is a named geographic point a flight travels through, typically an
// airport. Waypoints are immutable once loaded from the catalog.
type Waypoint struct {
	ID        string  `json:"id" msgpack:"id"`
	Name      string  `json:"name" msgpack:"name"`
	Latitude  float64 `json:"Latitude" msgpack:"lat"`
	Longitude float64 `json:"Longitude" msgpack:"lon"`
}

// Coordinate returns the waypoint position.
func (w Waypoint) Coordinate() core.Coordinate {
	return core.Coordinate{Lat: w.Latitude, Lon: w.Longitude}
}

// Route is an ordered sequence of waypoints; index order is travel order.
// A route of length 1 means the flight is already at its destination.
type Route []Waypoint

// IDs returns the waypoint identifiers in travel order.
func (r Route) IDs() []string {
	ids := make([]string, len(r))
	for i, w := range r {
		ids[i] = w.ID
	}
	return ids
}

// Clone returns a copy that shares no backing array with r.
func (r Route) Clone() Route {
	return slices.Clone(r)
}

// Contains reports whether a waypoint with the given id is part of the route.
func (r Route) Contains(id string) bool {
	return slices.ContainsFunc(r, func(w Waypoint) bool { return w.ID == id })
}
