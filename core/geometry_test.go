package core

import (
	"math"
	"testing"
	"time"
)

var (
	kolkata = Coordinate{Lat: 22.57, Lon: 88.36}
	newYork = Coordinate{Lat: 40.71, Lon: -74.01}
)

func TestDistanceKm_ZeroForSamePoint(t *testing.T) {
	for _, c := range []Coordinate{kolkata, newYork, {Lat: 90, Lon: 0}, {Lat: -33.9, Lon: 151.2}} {
		if d := DistanceKm(c, c); d != 0 {
			t.Fatalf("DistanceKm(%v, %v) = %v, want 0", c, c, d)
		}
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	pairs := [][2]Coordinate{
		{kolkata, newYork},
		{{Lat: 51.47, Lon: -0.4543}, {Lat: 40.6413, Lon: -73.7781}},
		{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 180}},
		{{Lat: -89.9, Lon: 10}, {Lat: 89.9, Lon: -170}},
	}
	for _, p := range pairs {
		ab := DistanceKm(p[0], p[1])
		ba := DistanceKm(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("DistanceKm not symmetric for %v/%v: %v vs %v", p[0], p[1], ab, ba)
		}
		if ab < 0 || math.IsNaN(ab) || math.IsInf(ab, 0) {
			t.Fatalf("DistanceKm(%v, %v) = %v, want finite non-negative", p[0], p[1], ab)
		}
	}
}

func TestDistanceKm_KolkataNewYork(t *testing.T) {
	got := DistanceKm(kolkata, newYork)
	if math.Abs(got-12746.26) > 1 {
		t.Fatalf("DistanceKm(Kolkata, New York) = %.2f km, want ≈12746 km", got)
	}
}

func TestDistanceKm_OneDegreeOfLongitudeAtEquator(t *testing.T) {
	got := DistanceKm(Coordinate{}, Coordinate{Lon: 1})
	want := EarthRadiusKm * math.Pi / 180
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("DistanceKm over 1° at equator = %v, want %v", got, want)
	}
}

func TestTravelTimeHours(t *testing.T) {
	if got := TravelTimeHours(903, 903); got != 1 {
		t.Fatalf("TravelTimeHours(903, 903) = %v, want 1", got)
	}

	minutes := TravelTimeHours(DistanceKm(kolkata, newYork), 903) * 60
	if math.Abs(minutes-846.93) > 0.1 {
		t.Fatalf("Kolkata → New York at 903 km/h = %.2f min, want ≈847", minutes)
	}
}

func TestTravelDuration(t *testing.T) {
	got := TravelDuration(451.5, 903)
	if got != 30*time.Minute {
		t.Fatalf("TravelDuration(451.5, 903) = %v, want 30m", got)
	}
}

func TestTravelTimeHours_PanicsOnZeroSpeed(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero speed")
		}
	}()
	TravelTimeHours(100, 0)
}

func TestInitialBearingDeg_CardinalDirections(t *testing.T) {
	origin := Coordinate{}
	cases := []struct {
		name string
		to   Coordinate
		want float64
	}{
		{"north", Coordinate{Lat: 1}, 0},
		{"east", Coordinate{Lon: 1}, 90},
		{"south", Coordinate{Lat: -1}, 180},
		{"west", Coordinate{Lon: -1}, 270},
	}
	for _, tc := range cases {
		if got := InitialBearingDeg(origin, tc.to); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: InitialBearingDeg = %v, want %v", tc.name, got, tc.want)
		}
	}
}
