package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// MetricInstruments caches OTel instruments per name so repeated Counter
// or Histogram calls don't re-create them on every call.
type MetricInstruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	updowns    map[string]metric.Int64UpDownCounter
	mu         sync.RWMutex
}

// NewMetricInstruments builds an instrument cache bound to meter.
func NewMetricInstruments(meter metric.Meter) *MetricInstruments {
	return &MetricInstruments{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		updowns:    make(map[string]metric.Int64UpDownCounter),
	}
}

func (m *MetricInstruments) counter(name string) (metric.Int64Counter, error) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c, nil
	}
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	m.counters[name] = c
	return c, nil
}

func (m *MetricInstruments) histogram(name string) (metric.Float64Histogram, error) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.histograms[name]; ok {
		return h, nil
	}
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", name, err)
	}
	m.histograms[name] = h
	return h, nil
}

func (m *MetricInstruments) upDownCounter(name string) (metric.Int64UpDownCounter, error) {
	m.mu.RLock()
	u, ok := m.updowns[name]
	m.mu.RUnlock()
	if ok {
		return u, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok = m.updowns[name]; ok {
		return u, nil
	}
	u, err := m.meter.Int64UpDownCounter(name)
	if err != nil {
		return nil, fmt.Errorf("create up-down counter %s: %w", name, err)
	}
	m.updowns[name] = u
	return u, nil
}

// RecordCounter adds delta to the named counter.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, delta int64, opts ...metric.AddOption) error {
	c, err := m.counter(name)
	if err != nil {
		return err
	}
	c.Add(ctx, delta, opts...)
	return nil
}

// RecordHistogram records value in the named distribution.
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	h, err := m.histogram(name)
	if err != nil {
		return err
	}
	h.Record(ctx, value, opts...)
	return nil
}

// RecordGauge models a gauge as a histogram of its latest observed
// value, the same trick the rest of the corpus uses to avoid
// OTel's callback-based ObservableGauge API for simple current-value
// metrics like queue depth or active session count.
func (m *MetricInstruments) RecordGauge(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	return m.RecordHistogram(ctx, name, value, opts...)
}

// RecordUpDown adjusts a value that moves in both directions, such as
// in-flight request count.
func (m *MetricInstruments) RecordUpDown(ctx context.Context, name string, delta int64, opts ...metric.AddOption) error {
	u, err := m.upDownCounter(name)
	if err != nil {
		return err
	}
	u.Add(ctx, delta, opts...)
	return nil
}

// Metric name constants for the components that emit telemetry.
const (
	MetricPoolInFlight       = "agentforge.pool.inflight"
	MetricPoolAcquireWaitMS  = "agentforge.pool.acquire_wait_ms"
	MetricPoolRequestErrors  = "agentforge.pool.request_errors"

	MetricLLMRequestDurationMS = "agentforge.llm.request_duration_ms"
	MetricLLMTokensEmitted     = "agentforge.llm.tokens_emitted"
	MetricLLMErrors            = "agentforge.llm.errors"
	MetricLLMThinkBlocks       = "agentforge.llm.think_blocks"

	MetricRegistryRefreshDurationMS = "agentforge.modelregistry.refresh_duration_ms"
	MetricRegistrySelections        = "agentforge.modelregistry.selections"
	MetricRegistryFallbacks         = "agentforge.modelregistry.fallbacks"

	MetricReasoningStateTransitions = "agentforge.reasoning.state_transitions"
	MetricReasoningChunksEmitted    = "agentforge.reasoning.chunks_emitted"
	MetricReasoningInterrupts       = "agentforge.reasoning.interrupts"

	MetricEventStoreAppends    = "agentforge.eventstore.appends"
	MetricEventStoreSessions   = "agentforge.eventstore.active_sessions"
	MetricEventStoreEvictions  = "agentforge.eventstore.evictions"

	MetricAgentStageDurationMS = "agentforge.agent.stage_duration_ms"
	MetricAgentStageRetries    = "agentforge.agent.stage_retries"
	MetricAgentStageErrors     = "agentforge.agent.stage_errors"

	MetricOrchestratorRunDurationMS = "agentforge.orchestrator.run_duration_ms"
	MetricOrchestratorQualityScore  = "agentforge.orchestrator.quality_score"
	MetricOrchestratorReflections   = "agentforge.orchestrator.reflections"

	MetricGatewayRequests       = "agentforge.gateway.requests"
	MetricGatewayStreamsActive  = "agentforge.gateway.streams_active"
	MetricGatewayRequestErrors  = "agentforge.gateway.request_errors"
)
