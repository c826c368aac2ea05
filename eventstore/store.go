package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/telemetry"
)

// SessionInfo is a read-only snapshot of a session's bookkeeping
// fields, returned by GetForSession.
type SessionInfo struct {
	SessionID    string
	CreatedAt    time.Time
	LastActivity time.Time
	EventCount   int
}

// Subscriber is the single live consumer of one session's queue.
type Subscriber interface {
	// Next blocks for the next event until one arrives, the queue is
	// removed, or ctx is done.
	Next(ctx context.Context) (Event, bool)
}

type session struct {
	id           string
	mu           sync.Mutex // guards events + lastActivity; log appends are serialized per session
	events       []Event
	createdAt    time.Time
	lastActivity time.Time
	queue        *liveQueue // nil until GetEventQueue is first called
}

// Store is the process-global, per-session event log described in
// spec.md §4.5: a dictionary of sessions behind one index mutex, each
// with its own log and at-most-one live queue, swept periodically for
// TTL expiry and bounded by a cross-session LRU cap.
type Store struct {
	limits Limits
	logger core.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New builds a Store and starts its background TTL sweeper. Call Close
// to stop the sweeper; it does not need to be called for a clean
// process exit, only to release the goroutine early (tests).
func New(limits Limits, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if limits.MaxSessions <= 0 {
		limits.MaxSessions = DefaultLimits().MaxSessions
	}
	if limits.EventTTL <= 0 {
		limits.EventTTL = DefaultLimits().EventTTL
	}
	if limits.CleanupInterval <= 0 {
		limits.CleanupInterval = DefaultLimits().CleanupInterval
	}

	s := &Store{
		limits:   limits,
		logger:   logger,
		sessions: make(map[string]*session),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweeper. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.stopped
}

func (s *Store) sweepLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.limits.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.CleanupAllOldEvents()
		}
	}
}

// GetForSession returns the existing session or creates one. If
// creating a new session would exceed limits.MaxSessions, the
// least-recently-touched session is evicted first (LRU by last event
// timestamp, falling back to creation order), per spec.md §4.5.
// Eviction runs outside the index lock used to re-check room, so it
// can't deadlock against itself.
func (s *Store) GetForSession(id string) SessionInfo {
	s.mu.RLock()
	if sess, ok := s.sessions[id]; ok {
		s.mu.RUnlock()
		return snapshotOf(sess)
	}
	s.mu.RUnlock()

	for {
		s.mu.Lock()
		if sess, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return snapshotOf(sess)
		}
		if len(s.sessions) < s.limits.MaxSessions {
			now := time.Now()
			sess := &session{id: id, createdAt: now, lastActivity: now}
			s.sessions[id] = sess
			s.mu.Unlock()
			telemetry.Gauge(telemetry.MetricEventStoreSessions, float64(len(s.sessions)))
			return snapshotOf(sess)
		}
		victim := s.lruVictim()
		s.mu.Unlock()

		if victim == "" {
			// No victim found (shouldn't happen with MaxSessions >= 1);
			// evict nothing and retry the race.
			continue
		}
		telemetry.Counter(telemetry.MetricEventStoreEvictions, "reason", "lru")
		s.CleanupSession(victim)
	}
}

// lruVictim returns the session id with the oldest last-activity
// timestamp, breaking ties by creation order. Caller must hold s.mu.
func (s *Store) lruVictim() string {
	var victim string
	var oldest, oldestCreated time.Time
	first := true
	for id, sess := range s.sessions {
		sess.mu.Lock()
		touched := sess.lastActivity
		created := sess.createdAt
		sess.mu.Unlock()
		if first || touched.Before(oldest) || (touched.Equal(oldest) && created.Before(oldestCreated)) {
			oldest = touched
			oldestCreated = created
			victim = id
			first = false
		}
	}
	return victim
}

func snapshotOf(sess *session) SessionInfo {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return SessionInfo{
		SessionID:    sess.id,
		CreatedAt:    sess.createdAt,
		LastActivity: sess.lastActivity,
		EventCount:   len(sess.events),
	}
}

// SaveEvent assigns a UUID and timestamp, appends to sessionID's log,
// and non-blockingly enqueues the event on the live channel if one
// exists. It creates the session if necessary. A failure to enqueue
// (there is none in this in-memory implementation, but a Redis-backed
// one can fail to publish) is logged and never propagated — the log is
// the source of truth.
func (s *Store) SaveEvent(sessionID string, eventType EventType, payload interface{}) Event {
	s.GetForSession(sessionID)

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		// Session was evicted between GetForSession and here under
		// extreme pressure; recreate it rather than drop the event.
		s.GetForSession(sessionID)
		s.mu.RLock()
		sess = s.sessions[sessionID]
		s.mu.RUnlock()
	}

	ev := Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}

	sess.mu.Lock()
	sess.events = append(sess.events, ev)
	sess.lastActivity = ev.Timestamp
	queue := sess.queue
	sess.mu.Unlock()

	if queue != nil {
		queue.push(ev)
	}

	telemetry.Counter(telemetry.MetricEventStoreAppends, "type", string(eventType))
	return ev
}

// GetEvent returns the event with id within sessionID's log, if found.
func (s *Store) GetEvent(sessionID, id string) (Event, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Event{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, ev := range sess.events {
		if ev.EventID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// GetEvents returns every event in sessionID's log whose id is in ids,
// preserving log order.
func (s *Store) GetEvents(sessionID string, ids []string) []Event {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Event, 0, len(ids))
	for _, ev := range sess.events {
		if want[ev.EventID] {
			out = append(out, ev)
		}
	}
	return out
}

// GetAllEvents returns a copy of sessionID's full log, in append order.
func (s *Store) GetAllEvents(sessionID string) []Event {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Event, len(sess.events))
	copy(out, sess.events)
	return out
}

// GetEventQueue returns sessionID's single live Subscriber, creating
// both the session and its queue if they don't exist yet. Calling it
// again for the same session returns the same Subscriber.
func (s *Store) GetEventQueue(sessionID string) Subscriber {
	s.GetForSession(sessionID)

	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.queue == nil {
		sess.queue = newLiveQueue()
	}
	return subscriberFunc(sess.queue.next)
}

type subscriberFunc func(ctx context.Context) (Event, bool)

func (f subscriberFunc) Next(ctx context.Context) (Event, bool) { return f(ctx) }

// RemoveEventQueue closes and drains sessionID's live queue, if any.
// The session's log is untouched.
func (s *Store) RemoveEventQueue(sessionID string) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	q := sess.queue
	sess.queue = nil
	sess.mu.Unlock()
	if q != nil {
		q.close()
	}
}

// CleanupSession removes sessionID's log, queue and index entry.
// Idempotent: calling it twice is a no-op on the second call.
func (s *Store) CleanupSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	sess.mu.Lock()
	q := sess.queue
	sess.queue = nil
	sess.events = nil
	sess.mu.Unlock()
	if q != nil {
		q.close()
	}
	telemetry.Gauge(telemetry.MetricEventStoreSessions, float64(s.sessionCount()))
}

func (s *Store) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CleanupAllOldEvents sweeps every session, retaining only events
// younger than limits.EventTTL, deletes sessions left with zero
// events, and closes queues whose session was just deleted. It is
// safe to call concurrently with itself and with all other Store
// methods.
func (s *Store) CleanupAllOldEvents() {
	now := time.Now()

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		sess.mu.Lock()
		kept := sess.events[:0:0]
		for _, ev := range sess.events {
			if now.Sub(ev.Timestamp) < s.limits.EventTTL {
				kept = append(kept, ev)
			}
		}
		sess.events = kept
		empty := len(kept) == 0
		sess.mu.Unlock()

		if empty {
			s.CleanupSession(id)
		}
	}
}
