package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, RealTime)

	done := tc.Start(context.Background(), 15*time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerAcceleratedScale(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)
	tc.Scale = 60

	if got, want := tc.Step(), 300*time.Millisecond; got != want {
		t.Fatalf("Step() = %v, want %v", got, want)
	}

	var ticks int
	tc.AddListener(func(time.Time) { ticks++ })

	done := tc.Start(context.Background(), 900*time.Millisecond)
	<-done

	if ticks != 3 {
		t.Fatalf("expected 3 listener invocations, got %d", ticks)
	}
	if got, want := tc.Now(), start.Add(900*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestTimeControllerStopsOnCancel(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, RealTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop after cancellation")
	}
}

func TestTimeControllerAfterFiresOnSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	ch := tc.After(10 * time.Minute)

	tc.SetTime(start.Add(5 * time.Minute))
	select {
	case got := <-ch:
		t.Fatalf("After fired early at %v", got)
	default:
	}

	target := start.Add(10 * time.Minute)
	tc.SetTime(target)
	select {
	case got := <-ch:
		if !got.Equal(target) {
			t.Fatalf("After delivered %v, want %v", got, target)
		}
	default:
		t.Fatalf("After did not fire once the deadline was reached")
	}
}

func TestTimeControllerAfterNonPositive(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	select {
	case got := <-tc.After(0):
		if !got.Equal(start) {
			t.Fatalf("After(0) delivered %v, want %v", got, start)
		}
	default:
		t.Fatalf("After(0) should fire immediately")
	}
}
