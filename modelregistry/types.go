// Package modelregistry discovers models exposed by the local model
// server, classifies them into a quality/hardware profile, and routes
// task requests to the best available model with hardware-budget and
// fallback rules.
package modelregistry

// Tier buckets a model by its approximate hardware footprint.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierHeavy    Tier = "heavy"
	TierUltra    Tier = "ultra"
)

var tierOrder = map[Tier]int{
	TierLight:    0,
	TierStandard: 1,
	TierHeavy:    2,
	TierUltra:    3,
}

// Complexity is the caller-declared difficulty of a task, driving the
// router's minimum-quality threshold and model-ranking strategy.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskType names the pipeline stage asking for a model, used by
// select_model to pick a default complexity when the caller doesn't
// supply one explicitly.
type TaskType string

const (
	TaskIntent     TaskType = "intent"
	TaskPlanning   TaskType = "planning"
	TaskCoding     TaskType = "coding"
	TaskTesting    TaskType = "testing"
	TaskReflection TaskType = "reflection"
	TaskDebugging  TaskType = "debugging"
)

// isCoderFlavored reports whether a task benefits from a coder-tuned
// model when one is available.
func (t TaskType) isCoderFlavored() bool {
	return t == TaskCoding || t == TaskDebugging
}

// ModelInfo is a value-typed snapshot of one model as classified at
// the most recent registry refresh.
type ModelInfo struct {
	Name             string
	SizeBytes        int64
	ParameterSize    string // e.g. "7B"
	ParameterCount   float64 // billions of parameters, parsed from ParameterSize
	Quantization     string
	Family           string
	IsCoder          bool
	IsReasoning      bool
	EstimatedQuality float64 // in [0, 1]
	Tier             Tier
}

// SelectionContext carries optional hints the router uses when they're
// present; a zero value means "let the task type decide".
type SelectionContext struct {
	Complexity Complexity
}

// ModelSelection is the router's immutable answer to a selection
// request.
type ModelSelection struct {
	ModelName   string
	Confidence  float64
	Reason      string
	IsReasoning bool
	Metadata    map[string]string
}
