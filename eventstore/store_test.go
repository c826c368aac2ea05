package eventstore

import (
	"context"
	"testing"
	"time"
)

func TestSaveEventThenRetrievable(t *testing.T) {
	s := New(DefaultLimits(), nil)
	defer s.Close()

	ev := s.SaveEvent("sess-1", EventProgress, map[string]string{"x": "y"})
	got, ok := s.GetEvent("sess-1", ev.EventID)
	if !ok {
		t.Fatalf("expected event to be retrievable")
	}
	if got.EventID != ev.EventID || got.Type != EventProgress {
		t.Fatalf("unexpected event: %+v", got)
	}

	all := s.GetAllEvents("sess-1")
	if len(all) != 1 {
		t.Fatalf("expected 1 event in log, got %d", len(all))
	}
}

func TestLiveQueueReceivesSavedEvent(t *testing.T) {
	s := New(DefaultLimits(), nil)
	defer s.Close()

	sub := s.GetEventQueue("sess-1")
	s.SaveEvent("sess-1", EventDone, "artifact")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected an event on the live queue")
	}
	if ev.Type != EventDone {
		t.Fatalf("expected done event, got %s", ev.Type)
	}
}

func TestRemoveEventQueueDrainsAndStopsDelivery(t *testing.T) {
	s := New(DefaultLimits(), nil)
	defer s.Close()

	sub := s.GetEventQueue("sess-1")
	s.SaveEvent("sess-1", EventProgress, nil)
	s.RemoveEventQueue("sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Fatalf("expected no further delivery after RemoveEventQueue")
	}

	// The log itself is untouched by queue removal.
	if len(s.GetAllEvents("sess-1")) != 1 {
		t.Fatalf("expected log to retain its event after queue removal")
	}
}

func TestCleanupSessionIsIdempotent(t *testing.T) {
	s := New(DefaultLimits(), nil)
	defer s.Close()

	s.SaveEvent("sess-1", EventProgress, nil)
	s.CleanupSession("sess-1")
	s.CleanupSession("sess-1") // second call is a no-op, not a panic

	if len(s.GetAllEvents("sess-1")) != 0 {
		t.Fatalf("expected empty log after cleanup")
	}
}

// TestLRUEvictionUnderMaxSessions is scenario E3: with max_sessions=3,
// sessions a,b,c,d created in order each leave only the 3
// most-recently-touched sessions present.
func TestLRUEvictionUnderMaxSessions(t *testing.T) {
	s := New(Limits{MaxSessions: 3, EventTTL: time.Hour, CleanupInterval: time.Hour}, nil)
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		s.SaveEvent(id, EventProgress, nil)
		time.Sleep(time.Millisecond)
	}
	s.SaveEvent("d", EventProgress, nil)

	if len(s.GetAllEvents("a")) != 0 {
		t.Fatalf("expected session a to be evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if len(s.GetAllEvents(id)) != 1 {
			t.Fatalf("expected session %s to survive eviction", id)
		}
	}
}

// TestCleanupAllOldEventsSweepsExpired is scenario E4.
func TestCleanupAllOldEventsSweepsExpired(t *testing.T) {
	s := New(Limits{MaxSessions: 10, EventTTL: 50 * time.Millisecond, CleanupInterval: time.Hour}, nil)
	defer s.Close()

	s.SaveEvent("sess-1", EventProgress, nil)
	time.Sleep(75 * time.Millisecond)
	s.CleanupAllOldEvents()

	if len(s.GetAllEvents("sess-1")) != 0 {
		t.Fatalf("expected expired event to be swept")
	}
}

func TestMaxSessionsNeverExceededAfterGetForSession(t *testing.T) {
	s := New(Limits{MaxSessions: 2, EventTTL: time.Hour, CleanupInterval: time.Hour}, nil)
	defer s.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.GetForSession(id)
		if s.sessionCount() > 2 {
			t.Fatalf("session count exceeded max after GetForSession(%s): %d", id, s.sessionCount())
		}
	}
}
