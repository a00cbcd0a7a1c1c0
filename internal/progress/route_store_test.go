package progress

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/airroute-simulator/model"
)

func TestRouteStoreWalk(t *testing.T) {
	s := NewRouteStore()
	if _, ok := s.Current(); ok {
		t.Fatalf("empty store should have no current waypoint")
	}
	if err := s.Replace(nil); !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("Replace(nil) err = %v, want ErrEmptyRoute", err)
	}

	route := model.Route{ccu, dxb, jfk}
	if err := s.Replace(route); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	route[0].ID = "mutated"
	if cur, _ := s.Current(); cur.ID != "CCU" {
		t.Fatalf("store must keep its own copy, current = %q", cur.ID)
	}
	if nxt, ok := s.Next(); !ok || nxt.ID != "DXB" {
		t.Fatalf("Next = %v/%v, want DXB", nxt.ID, ok)
	}
	if first, _ := s.First(); first.ID != "CCU" {
		t.Fatalf("First = %q", first.ID)
	}
	if last, _ := s.Last(); last.ID != "JFK" {
		t.Fatalf("Last = %q", last.ID)
	}

	for i := 1; i <= 2; i++ {
		if err := s.Advance(); err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if s.Index() != i {
			t.Fatalf("Index = %d, want %d", s.Index(), i)
		}
	}
	if _, ok := s.Next(); ok {
		t.Fatalf("Next at last index should be absent")
	}
	if err := s.Advance(); !errors.Is(err, ErrAtLastWaypoint) {
		t.Fatalf("Advance past end err = %v, want ErrAtLastWaypoint", err)
	}
}

func TestRouteStoreReplaceResetsIndex(t *testing.T) {
	s := NewRouteStore()
	_ = s.Replace(model.Route{ccu, dxb, jfk})
	_ = s.Advance()

	if err := s.Replace(model.Route{dxb, lhr, jfk}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if s.Index() != 0 || len(s.Route()) != 3 {
		t.Fatalf("after Replace index=%d len=%d, want 0/3", s.Index(), len(s.Route()))
	}
	if s.Route().Contains("CCU") {
		t.Fatalf("old route leaked into replacement: %v", s.Route().IDs())
	}
}

func TestRouteStoreSingleWaypoint(t *testing.T) {
	s := NewRouteStore()
	_ = s.Replace(model.Route{jfk})
	if _, ok := s.Next(); ok {
		t.Fatalf("single waypoint route should have no next waypoint")
	}
	if first, _ := s.First(); first.ID != "JFK" {
		t.Fatalf("First = %q", first.ID)
	}
}
