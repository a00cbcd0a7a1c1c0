package kb

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/airroute-simulator/model"
)

const sampleCatalog = `{"airports": [
	{"id": "CCU", "name": "Kolkata", "Latitude": 22.57, "Longitude": 88.36},
	{"id": "DXB", "name": "Dubai", "Latitude": 25.25, "Longitude": 55.36},
	{"id": "JFK", "name": "New York", "Latitude": 40.71, "Longitude": -74.01}
]}`

func TestAddAndGetWaypoint(t *testing.T) {
	c := NewCatalog()
	if err := c.Add(model.Waypoint{ID: "CCU", Name: "Kolkata", Latitude: 22.57, Longitude: 88.36}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	got, ok := c.Get("CCU")
	if !ok || got.Name != "Kolkata" {
		t.Fatalf("Get returned %#v/%v, want Kolkata", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) should report not found")
	}
}

func TestAddWaypointDuplicate(t *testing.T) {
	c := NewCatalog()
	if err := c.Add(model.Waypoint{ID: "CCU"}); err != nil {
		t.Fatalf("first Add error: %v", err)
	}
	if err := c.Add(model.Waypoint{ID: "CCU"}); !errors.Is(err, ErrWaypointExists) {
		t.Fatalf("duplicate Add error = %v, want ErrWaypointExists", err)
	}
}

func TestAddWaypointValidation(t *testing.T) {
	c := NewCatalog()
	for _, w := range []model.Waypoint{
		{ID: ""},
		{ID: "bad-lat", Latitude: 91},
		{ID: "bad-lon", Longitude: -180.5},
		{ID: "nan-lat", Latitude: math.NaN()},
		{ID: "nan-lon", Longitude: math.NaN()},
		{ID: "inf-lat", Latitude: math.Inf(1)},
		{ID: "inf-lon", Longitude: math.Inf(-1)},
	} {
		if err := c.Add(w); !errors.Is(err, ErrInvalidWaypoint) {
			t.Fatalf("Add(%+v) error = %v, want ErrInvalidWaypoint", w, err)
		}
	}
}

func TestSealedCatalogRejectsAdds(t *testing.T) {
	c := NewCatalog()
	c.Seal()
	if err := c.Add(model.Waypoint{ID: "CCU"}); !errors.Is(err, ErrSealed) {
		t.Fatalf("Add after Seal error = %v, want ErrSealed", err)
	}
}

func TestResolvePreservesOrder(t *testing.T) {
	c, err := LoadJSON(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	route, err := c.Resolve([]string{"JFK", "CCU", "DXB"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := route.IDs()
	want := []string{"JFK", "CCU", "DXB"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Resolve order = %v, want %v", got, want)
		}
	}
}

func TestResolveUnknownID(t *testing.T) {
	c, err := LoadJSON(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if _, err := c.Resolve([]string{"CCU", "LHR"}); !errors.Is(err, ErrUnknownWaypoint) {
		t.Fatalf("Resolve error = %v, want ErrUnknownWaypoint", err)
	}
}

func TestLoadJSONRejectsDuplicates(t *testing.T) {
	doc := `{"airports": [{"id": "CCU"}, {"id": "CCU"}]}`
	if _, err := LoadJSON(strings.NewReader(doc)); !errors.Is(err, ErrWaypointExists) {
		t.Fatalf("LoadJSON error = %v, want ErrWaypointExists", err)
	}
}

func TestMsgpackSnapshotLoads(t *testing.T) {
	c, err := LoadJSON(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	var buf bytes.Buffer
	if err := c.WriteMsgpack(&buf); err != nil {
		t.Fatalf("WriteMsgpack: %v", err)
	}

	path := filepath.Join(t.TempDir(), "catalog.msgpack")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("loaded catalog has %d waypoints, want 3", loaded.Len())
	}
	jfk, ok := loaded.Get("JFK")
	if !ok || jfk.Latitude != 40.71 || jfk.Longitude != -74.01 {
		t.Fatalf("JFK after msgpack load = %#v", jfk)
	}
}

func TestLoadMsgpackRejectsNonFiniteCoordinates(t *testing.T) {
	var buf bytes.Buffer
	snapshot := catalogFile{Airports: []model.Waypoint{
		{ID: "CCU", Latitude: 22.57, Longitude: 88.36},
		{ID: "NAN", Latitude: math.NaN(), Longitude: 10},
	}}
	if err := msgpack.NewEncoder(&buf).Encode(snapshot); err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if _, err := LoadMsgpack(&buf); !errors.Is(err, ErrInvalidWaypoint) {
		t.Fatalf("LoadMsgpack error = %v, want ErrInvalidWaypoint", err)
	}
}

func TestConcurrentLookups(t *testing.T) {
	c, err := LoadJSON(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Resolve([]string{"CCU", "DXB", "JFK"}); err != nil {
				t.Errorf("goroutine %d: Resolve: %v", i, err)
			}
			_ = c.List()
			_, _ = c.Get(fmt.Sprintf("X%d", i))
		}(i)
	}
	wg.Wait()
}
