package telemetry

import "path/filepath"

// SystemBenchmark is a one-shot measurement of the model server's
// throughput, persisted to "<outputDir>/benchmark.json" and used to
// scale the per-stage time estimates shown to clients (spec.md §3).
type SystemBenchmark struct {
	TokensPerSecond       float64 `json:"tokens_per_second"`
	TimeToFirstTokenMS    float64 `json:"time_to_first_token_ms"`
	ModelUsed             string  `json:"model_used"`
	PerformanceMultiplier float64 `json:"performance_multiplier"`
}

// baselineTokensPerSecond is the reference throughput performance
// multipliers are expressed against; chosen as a plausible CPU-only
// baseline for a 7B-class model.
const baselineTokensPerSecond = 20.0

// NewSystemBenchmark derives PerformanceMultiplier from the observed
// tokensPerSecond against baselineTokensPerSecond.
func NewSystemBenchmark(tokensPerSecond, timeToFirstTokenMS float64, modelUsed string) SystemBenchmark {
	multiplier := 0.0
	if baselineTokensPerSecond > 0 {
		multiplier = tokensPerSecond / baselineTokensPerSecond
	}
	return SystemBenchmark{
		TokensPerSecond:       tokensPerSecond,
		TimeToFirstTokenMS:    timeToFirstTokenMS,
		ModelUsed:             modelUsed,
		PerformanceMultiplier: multiplier,
	}
}

// SaveBenchmark persists b as benchmark.json under outputDir.
func SaveBenchmark(outputDir string, b SystemBenchmark) error {
	return persistJSON(filepath.Join(outputDir, "benchmark.json"), b)
}
