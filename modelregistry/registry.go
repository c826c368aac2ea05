package modelregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/pool"
	"github.com/forgemind/agentforge/resilience"
	"github.com/forgemind/agentforge/telemetry"
)

// HardwareBudget bounds which tiers the router is allowed to select,
// modeling a fixed local VRAM envelope. Setting Disabled lifts the cap
// entirely (spec invariant: the router never returns a model outside
// budget unless the budget is explicitly disabled).
type HardwareBudget struct {
	Disabled   bool
	AllowHeavy bool
	AllowUltra bool
}

// DefaultHardwareBudget matches a modest single-GPU workstation: heavy
// models allowed, ultra models not.
func DefaultHardwareBudget() HardwareBudget {
	return HardwareBudget{AllowHeavy: true}
}

func (b HardwareBudget) allows(tier Tier) bool {
	if b.Disabled {
		return true
	}
	switch tier {
	case TierUltra:
		return b.AllowUltra
	case TierHeavy:
		return b.AllowHeavy
	default:
		return true
	}
}

type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
			Family            string `json:"family"`
		} `json:"details"`
	} `json:"models"`
}

// Registry caches the local model server's model list as a classified,
// immutable snapshot. Refresh swaps the whole snapshot atomically; readers
// never see a partially updated map.
type Registry struct {
	pool    *pool.Pool
	logger  core.Logger
	backoff resilience.BackoffPolicy
	rules   classificationRules

	snapshot atomic.Value // map[string]ModelInfo

	mu          sync.Mutex
	lastRefresh time.Time
}

// New builds a Registry. rulesPath may be empty to use built-in
// defaults. The registry starts empty; call Refresh before first use.
func New(p *pool.Pool, logger core.Logger, backoffPolicy resilience.BackoffPolicy, rulesPath string) (*Registry, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	rules, err := loadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	r := &Registry{pool: p, logger: logger, backoff: backoffPolicy, rules: rules}
	r.snapshot.Store(map[string]ModelInfo{})
	return r, nil
}

// Refresh queries the model server, classifies every returned model,
// and atomically replaces the cached snapshot. Transport failures are
// retried through resilience.Retry; the prior snapshot is left in
// place if every attempt fails.
func (r *Registry) Refresh(ctx context.Context) error {
	start := time.Now()
	defer telemetry.Duration(telemetry.MetricRegistryRefreshDurationMS, start)

	data, err := resilience.Retry(ctx, r.backoff, func() ([]byte, error) {
		return r.pool.Request(ctx, "GET", "/api/tags", nil)
	})
	if err != nil {
		r.logger.Warn("model registry refresh failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("modelregistry: refresh: %w", err)
	}

	var parsed tagsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("modelregistry: decode /api/tags: %w", err)
	}

	next := make(map[string]ModelInfo, len(parsed.Models))
	for _, m := range parsed.Models {
		info, ok := classify(r.rules, m.Name, m.Size, m.Details.ParameterSize, m.Details.QuantizationLevel, m.Details.Family)
		if !ok {
			continue
		}
		next[info.Name] = info
	}

	r.snapshot.Store(next)
	r.mu.Lock()
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	telemetry.Counter(telemetry.MetricRegistrySelections, "op", "refresh")
	r.logger.Info("model registry refreshed", map[string]interface{}{"count": len(next)})
	return nil
}

// Snapshot returns the current classified model set. Callers must not
// mutate the returned map; it is shared across goroutines.
func (r *Registry) Snapshot() map[string]ModelInfo {
	return r.snapshot.Load().(map[string]ModelInfo)
}

// Get returns a single model's info and whether it is currently known.
func (r *Registry) Get(name string) (ModelInfo, bool) {
	info, ok := r.Snapshot()[name]
	return info, ok
}

// LastRefresh reports when the snapshot was last successfully
// replaced; the zero time if Refresh has never succeeded.
func (r *Registry) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefresh
}
