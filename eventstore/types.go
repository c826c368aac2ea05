// Package eventstore is the process-global, per-session event log and
// live fan-out queue described in spec.md §4.5. It is the only owner of
// Events and their queues; external code holds only event ids.
package eventstore

import "time"

// EventType is the closed set of event kinds a session's log may hold.
type EventType string

const (
	EventThinkingStarted     EventType = "thinking_started"
	EventThinkingInProgress  EventType = "thinking_in_progress"
	EventThinkingCompleted   EventType = "thinking_completed"
	EventThinkingInterrupted EventType = "thinking_interrupted"
	EventProgress            EventType = "progress"
	EventPlanChunk           EventType = "plan_chunk"
	EventTestChunk           EventType = "test_chunk"
	EventCodeChunk           EventType = "code_chunk"
	EventAnalysisChunk       EventType = "analysis_chunk"
	EventReflectionChunk     EventType = "reflection_chunk"
	EventError               EventType = "error"
	EventDone                EventType = "done"
)

// Event is one immutable, append-only unit in a session's log. Created
// only by Store.SaveEvent; never mutated afterward.
type Event struct {
	EventID   string
	Type      EventType
	Payload   interface{}
	Timestamp time.Time
	SessionID string
}

// Limits bounds a Store's memory footprint and sweep cadence.
type Limits struct {
	MaxSessions     int
	EventTTL        time.Duration
	CleanupInterval time.Duration
}

// DefaultLimits mirrors spec.md §4.5's stated defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxSessions:     1000,
		EventTTL:        time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}
