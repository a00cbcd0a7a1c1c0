package core

import (
	"fmt"
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for all great-circle
// calculations (kilometres).
const EarthRadiusKm = 6371.0

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// String renders the coordinate as "lat,lon" with six decimals.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// DistanceKm returns the haversine great-circle distance between a and b in
// kilometres. The result is symmetric and 0 when a == b.
func DistanceKm(a, b Coordinate) float64 {
	lat1, lon1 := radians(a.Lat), radians(a.Lon)
	lat2, lon2 := radians(b.Lat), radians(b.Lon)
	dlat := lat2 - lat1
	dlon := lon2 - lon1

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// Rounding can push h marginally outside [0, 1] for antipodal points.
	if h < 0 {
		h = 0
	} else if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// TravelTimeHours converts a distance and a cruise speed into hours of travel.
// A non-positive speed is a programming error and panics.
func TravelTimeHours(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		panic(fmt.Sprintf("core: travel speed must be positive, got %v km/h", speedKmh))
	}
	return distanceKm / speedKmh
}

// TravelDuration is TravelTimeHours expressed as a time.Duration.
func TravelDuration(distanceKm, speedKmh float64) time.Duration {
	return time.Duration(TravelTimeHours(distanceKm, speedKmh) * float64(time.Hour))
}

// InitialBearingDeg returns the initial great-circle bearing from a towards b,
// normalised to [0, 360).
func InitialBearingDeg(a, b Coordinate) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dlon := radians(b.Lon - a.Lon)

	x := math.Sin(dlon) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)

	deg := math.Atan2(x, y) * 180.0 / math.Pi
	return math.Mod(deg+360.0, 360.0)
}
