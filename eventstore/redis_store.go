package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/telemetry"
)

// redisSessionsDB is the database index the teacher's own redis_client.go
// reserves for session storage (core/redis_client.go's RedisDBSessions),
// kept here so a shared Redis instance doesn't collide with discovery
// or rate-limiting traffic from another component using the same URL.
const redisSessionsDB = 2

const redisNamespace = "agentforge:eventstore"

// RedisStore is an optional Redis-backed alternative to Store, for a
// horizontally-scaled gateway deployment where more than one process
// needs to see the same session's events (spec.md §1 names durable
// storage across process restarts as a non-goal; this does not provide
// that — each session's log key carries limits.EventTTL, re-applied on
// every append, so a log is dropped EventTTL after its last event).
// Grounded on core/redis_client.go's RedisClient (DB isolation, key
// namespacing, Ping-on-connect) and core/redis_discovery.go's
// connect-then-populate shape in the teacher.
type RedisStore struct {
	client *redis.Client
	limits Limits
	logger core.Logger
}

// redisEvent is Event's wire shape: Payload is re-encoded as raw JSON
// since Redis only stores bytes and the concrete Go payload type isn't
// recoverable across a process boundary. A replayed RedisStore event's
// Payload is therefore a map[string]interface{} (or a JSON scalar), not
// the original typed struct — sufficient for SSE re-framing, since
// reasoning.Frame.Encode only ever needs to re-marshal it to JSON.
type redisEvent struct {
	EventID   string          `json:"event_id"`
	Type      EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
}

// NewRedisStore connects to redisURL and returns a RedisStore using the
// framework's reserved session-storage database. A nil logger defaults
// to a no-op.
func NewRedisStore(redisURL string, limits Limits, logger core.Logger) (*RedisStore, error) {
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

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("eventstore: invalid redis URL: %w", err)
	}
	opt.DB = redisSessionsDB
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventstore: redis connect: %w", err)
	}

	return &RedisStore{client: client, limits: limits, logger: logger}, nil
}

func (s *RedisStore) key(parts ...string) string {
	out := redisNamespace
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

// SaveEvent assigns a UUID and timestamp, RPUSHes the encoded event
// onto sessionID's list (re-applying the TTL on every append, since a
// Redis list's TTL isn't reset by LPUSH/RPUSH on its own), records
// sessionID's last-activity in the cross-session sorted-set index used
// for LRU eviction, and PUBLISHes the event to any live subscriber.
// Publish failures are logged and swallowed — the list is the source
// of truth, exactly as spec.md §4.5 requires of the in-memory Store.
func (s *RedisStore) SaveEvent(ctx context.Context, sessionID string, eventType EventType, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: encode payload: %w", err)
	}

	ev := redisEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
	encoded, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: encode event: %w", err)
	}

	listKey := s.key("log", sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, listKey, encoded)
	pipe.Expire(ctx, listKey, s.limits.EventTTL)
	pipe.ZAdd(ctx, s.key("index"), &redis.Z{Score: float64(ev.Timestamp.UnixNano()), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return Event{}, fmt.Errorf("eventstore: save event: %w", err)
	}

	if err := s.client.Publish(ctx, s.key("live", sessionID), encoded).Err(); err != nil {
		s.logger.Warn("redis event store: publish failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}

	telemetry.Counter(telemetry.MetricEventStoreAppends, "type", string(eventType), "backend", "redis")
	return toEvent(ev), s.evictIfOverLimit(ctx)
}

// evictIfOverLimit drops the least-recently-touched session once the
// index grows past limits.MaxSessions, mirroring Store's in-memory LRU
// cap across the whole Redis-backed fleet.
func (s *RedisStore) evictIfOverLimit(ctx context.Context) error {
	count, err := s.client.ZCard(ctx, s.key("index")).Result()
	if err != nil || count <= int64(s.limits.MaxSessions) {
		return nil
	}
	victims, err := s.client.ZRangeByScore(ctx, s.key("index"), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Offset: 0, Count: count - int64(s.limits.MaxSessions),
	}).Result()
	if err != nil {
		return nil
	}
	for _, id := range victims {
		telemetry.Counter(telemetry.MetricEventStoreEvictions, "reason", "lru", "backend", "redis")
		if err := s.CleanupSession(ctx, id); err != nil {
			s.logger.Warn("redis event store: eviction cleanup failed", map[string]interface{}{"session_id": id, "error": err.Error()})
		}
	}
	return nil
}

func toEvent(ev redisEvent) Event {
	var payload interface{}
	_ = json.Unmarshal(ev.Payload, &payload)
	return Event{EventID: ev.EventID, Type: ev.Type, Payload: payload, Timestamp: ev.Timestamp, SessionID: ev.SessionID}
}

// GetAllEvents returns sessionID's full log in append order.
func (s *RedisStore) GetAllEvents(ctx context.Context, sessionID string) ([]Event, error) {
	items, err := s.client.LRange(ctx, s.key("log", sessionID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("eventstore: get all events: %w", err)
	}
	out := make([]Event, 0, len(items))
	for _, raw := range items {
		var ev redisEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, toEvent(ev))
	}
	return out, nil
}

// GetEvent returns the event with the given id within sessionID's log.
func (s *RedisStore) GetEvent(ctx context.Context, sessionID, id string) (Event, bool, error) {
	events, err := s.GetAllEvents(ctx, sessionID)
	if err != nil {
		return Event{}, false, err
	}
	for _, ev := range events {
		if ev.EventID == id {
			return ev, true, nil
		}
	}
	return Event{}, false, nil
}

// RedisSubscriber is the Redis-backed Subscriber returned by
// GetEventQueue: a thin wrapper over a redis.PubSub channel.
type RedisSubscriber struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Next blocks for the next published event until one arrives, the
// subscription is removed, or ctx is done.
func (r *RedisSubscriber) Next(ctx context.Context) (Event, bool) {
	select {
	case msg, ok := <-r.ch:
		if !ok {
			return Event{}, false
		}
		var ev redisEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			return Event{}, false
		}
		return toEvent(ev), true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close unsubscribes and releases the underlying connection.
func (r *RedisSubscriber) Close() error {
	return r.pubsub.Close()
}

// GetEventQueue subscribes to sessionID's live-publish channel. Unlike
// the in-memory Store, Redis pub/sub is fan-out-to-all-subscribers
// rather than exactly-one — callers needing the single-subscriber
// contract (spec.md §4.5) are expected to keep exactly one
// RedisSubscriber per session alive at a time, matching the in-memory
// Store's own usage pattern at the gateway (one SSE writer per
// session).
func (s *RedisStore) GetEventQueue(ctx context.Context, sessionID string) *RedisSubscriber {
	pubsub := s.client.Subscribe(ctx, s.key("live", sessionID))
	return &RedisSubscriber{pubsub: pubsub, ch: pubsub.Channel()}
}

// CleanupSession removes sessionID's log and index entry. Idempotent.
func (s *RedisStore) CleanupSession(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key("log", sessionID))
	pipe.ZRem(ctx, s.key("index"), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// CleanupAllOldEvents prunes index entries whose backing log key has
// already expired via Redis's own TTL (the list key, not the index
// entry, carries the TTL — Redis doesn't expire sorted-set members
// individually), so the index doesn't grow unbounded with stale ids.
func (s *RedisStore) CleanupAllOldEvents(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.key("index"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("eventstore: sweep: %w", err)
	}
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.key("log", id)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			s.client.ZRem(ctx, s.key("index"), id)
		}
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
