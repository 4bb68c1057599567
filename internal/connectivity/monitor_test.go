package connectivity_test

import (
	"testing"

	"github.com/tvandenberg/clubsync/internal/connectivity"
)

func TestStartsOffline(t *testing.T) {
	m := connectivity.New(nil, 0)
	if m.IsOnline() {
		t.Fatal("expected new monitor to start offline")
	}
}

func TestTransitionFiresExactlyOnce(t *testing.T) {
	m := connectivity.New(nil, 0)

	var events []bool
	m.Subscribe(func(online bool) {
		events = append(events, online)
	})

	m.SetOnline(true)
	m.SetOnline(true) // duplicate, must not fire
	m.SetOnline(false)
	m.SetOnline(false) // duplicate, must not fire
	m.SetOnline(true)

	want := []bool{true, false, true}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(events), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: expected %v, got %v", i, want[i], events[i])
		}
	}

	if !m.IsOnline() {
		t.Fatal("expected final state online")
	}
}

func TestAllSubscribersNotified(t *testing.T) {
	m := connectivity.New(nil, 0)

	fired := make([]int, 2)
	m.Subscribe(func(bool) { fired[0]++ })
	m.Subscribe(func(bool) { fired[1]++ })

	m.SetOnline(true)

	if fired[0] != 1 || fired[1] != 1 {
		t.Fatalf("expected both subscribers fired once, got %v", fired)
	}
}
