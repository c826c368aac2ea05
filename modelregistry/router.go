package modelregistry

import (
	"errors"
	"sort"

	"github.com/forgemind/agentforge/telemetry"
)

// ErrNoModelAvailable is returned when no cached model clears the
// quality threshold and hardware budget for a selection request.
var ErrNoModelAvailable = errors.New("modelregistry: no model satisfies the request")

var minQualityByComplexity = map[Complexity]float64{
	ComplexitySimple:  0.30,
	ComplexityMedium:  0.55,
	ComplexityComplex: 0.70,
}

// RouterConfig tunes router-wide policy independent of any single
// selection call.
type RouterConfig struct {
	Budget                 HardwareBudget
	DisableReasoningForComplex bool
}

// Router picks a model from a Registry's snapshot for a given task,
// complexity, and hardware budget.
type Router struct {
	registry *Registry
	config   RouterConfig
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry, config RouterConfig) *Router {
	return &Router{registry: registry, config: config}
}

// SelectModel picks a model for taskType. When sctx.Complexity is set
// it is used directly; otherwise the task type's default complexity
// applies: intent/planning and testing/reflection/debugging resolve to
// simple (favoring latency), coding resolves to medium.
func (rt *Router) SelectModel(taskType TaskType, preferred string, sctx SelectionContext) (ModelSelection, error) {
	if sctx.Complexity != "" {
		return rt.SelectModelForComplexity(sctx.Complexity, taskType, preferred)
	}

	complexity := ComplexitySimple
	if taskType == TaskCoding {
		complexity = ComplexityMedium
	}
	return rt.SelectModelForComplexity(complexity, taskType, preferred)
}

// SelectModelForComplexity implements the core selection algorithm:
// honor an explicit preferred model if it's known, otherwise filter
// the registry snapshot by minimum quality and hardware budget, try
// reasoning models first for complex tasks (unless disabled), and
// otherwise prefer coder models for coder-flavored tasks before
// applying the simple/medium-complex min-or-max quality rule.
func (rt *Router) SelectModelForComplexity(complexity Complexity, taskType TaskType, preferred string) (ModelSelection, error) {
	telemetry.Counter(telemetry.MetricRegistrySelections, "task_type", string(taskType), "complexity", string(complexity))

	snapshot := rt.registry.Snapshot()

	if preferred != "" {
		if info, ok := snapshot[preferred]; ok {
			return ModelSelection{
				ModelName:   info.Name,
				Confidence:  1.0,
				Reason:      "preferred model explicitly requested",
				IsReasoning: info.IsReasoning,
			}, nil
		}
	}

	minQuality := minQualityByComplexity[complexity]
	if minQuality == 0 {
		minQuality = minQualityByComplexity[ComplexityMedium]
	}

	eligible := make([]ModelInfo, 0, len(snapshot))
	for _, info := range snapshot {
		if info.EstimatedQuality < minQuality {
			continue
		}
		if !rt.config.Budget.allows(info.Tier) {
			continue
		}
		eligible = append(eligible, info)
	}

	if complexity == ComplexityComplex && !rt.config.DisableReasoningForComplex {
		reasoning := filterModels(eligible, func(m ModelInfo) bool { return m.IsReasoning })
		if len(reasoning) > 0 {
			sortDescending(reasoning)
			best := reasoning[0]
			return ModelSelection{
				ModelName:   best.Name,
				Confidence:  best.EstimatedQuality,
				Reason:      "reasoning model preferred for complex task",
				IsReasoning: true,
			}, nil
		}
	}

	pool := eligible
	if taskType.isCoderFlavored() {
		if coder := filterModels(eligible, func(m ModelInfo) bool { return m.IsCoder }); len(coder) > 0 {
			pool = coder
		}
	}

	if len(pool) == 0 {
		return ModelSelection{}, ErrNoModelAvailable
	}

	var best ModelInfo
	reason := ""
	if complexity == ComplexitySimple {
		sortAscending(pool)
		best = pool[0]
		reason = "minimum-quality model selected to favor latency"
	} else {
		sortDescending(pool)
		best = pool[0]
		reason = "maximum-quality model selected to favor output quality"
	}

	return ModelSelection{
		ModelName:   best.Name,
		Confidence:  best.EstimatedQuality,
		Reason:      reason,
		IsReasoning: best.IsReasoning,
	}, nil
}

// GetFallbackModel returns a different model of equal-or-lower tier
// than failedModel, ranked the same way a medium/complex selection
// would rank (maximum quality first), or nil if nothing qualifies.
func (rt *Router) GetFallbackModel(failedModel string, taskType TaskType, complexity Complexity) (*ModelSelection, error) {
	snapshot := rt.registry.Snapshot()

	failedTier := TierUltra
	if info, ok := snapshot[failedModel]; ok {
		failedTier = info.Tier
	}

	minQuality := 0.0
	if complexity != "" {
		minQuality = minQualityByComplexity[complexity]
	}

	candidates := make([]ModelInfo, 0, len(snapshot))
	for name, info := range snapshot {
		if name == failedModel {
			continue
		}
		if tierOrder[info.Tier] > tierOrder[failedTier] {
			continue
		}
		if info.EstimatedQuality < minQuality {
			continue
		}
		if !rt.config.Budget.allows(info.Tier) {
			continue
		}
		candidates = append(candidates, info)
	}

	if taskType.isCoderFlavored() {
		if coder := filterModels(candidates, func(m ModelInfo) bool { return m.IsCoder }); len(coder) > 0 {
			candidates = coder
		}
	}

	if len(candidates) == 0 {
		telemetry.Counter(telemetry.MetricRegistryFallbacks, "result", "none")
		return nil, nil
	}

	sortDescending(candidates)
	best := candidates[0]
	telemetry.Counter(telemetry.MetricRegistryFallbacks, "result", "found")
	return &ModelSelection{
		ModelName:   best.Name,
		Confidence:  best.EstimatedQuality,
		Reason:      "fallback for unavailable model " + failedModel,
		IsReasoning: best.IsReasoning,
	}, nil
}

func filterModels(models []ModelInfo, keep func(ModelInfo) bool) []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// sortDescending orders by quality desc, then parameter count desc
// (larger wins ties), then model name ascending — the tie-break rule
// used whenever the router wants the best model.
func sortDescending(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		if models[i].EstimatedQuality != models[j].EstimatedQuality {
			return models[i].EstimatedQuality > models[j].EstimatedQuality
		}
		if models[i].ParameterCount != models[j].ParameterCount {
			return models[i].ParameterCount > models[j].ParameterCount
		}
		return models[i].Name < models[j].Name
	})
}

// sortAscending orders by quality asc, then parameter count asc
// (smaller wins ties), then model name ascending — used when the
// router wants the lightest model that still clears the floor.
func sortAscending(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		if models[i].EstimatedQuality != models[j].EstimatedQuality {
			return models[i].EstimatedQuality < models[j].EstimatedQuality
		}
		if models[i].ParameterCount != models[j].ParameterCount {
			return models[i].ParameterCount < models[j].ParameterCount
		}
		return models[i].Name < models[j].Name
	})
}
