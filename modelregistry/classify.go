package modelregistry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// classificationRules is the data-driven shape of models.yaml: name
// substrings that mark a model coder- or reasoning-flavored, family
// quality baselines, and the parameter-count breakpoints between
// hardware tiers. Keeping this as data rather than hardcoded substring
// checks lets an operator retune classification for a new model family
// without a code change.
type classificationRules struct {
	CoderSubstrings     []string           `yaml:"coder_substrings"`
	ReasoningSubstrings []string           `yaml:"reasoning_substrings"`
	EmbeddingSubstrings []string           `yaml:"embedding_substrings"`
	FamilyBaseQuality   map[string]float64 `yaml:"family_base_quality"`
	DefaultBaseQuality  float64            `yaml:"default_base_quality"`
	TierBreakpointsB    struct {
		Standard float64 `yaml:"standard"`
		Heavy    float64 `yaml:"heavy"`
		Ultra    float64 `yaml:"ultra"`
	} `yaml:"tier_breakpoints_b"`
}

func defaultRules() classificationRules {
	r := classificationRules{
		CoderSubstrings:     []string{"coder", "code", "codellama", "starcoder", "devstral"},
		ReasoningSubstrings: []string{"reasoning", "r1", "qwq", "o1", "think"},
		EmbeddingSubstrings: []string{"embed", "embedding", "bge", "nomic-embed"},
		FamilyBaseQuality:   map[string]float64{"llama": 0.55, "qwen": 0.58, "mistral": 0.52, "phi": 0.50, "gemma": 0.50},
		DefaultBaseQuality:  0.45,
	}
	r.TierBreakpointsB.Standard = 8
	r.TierBreakpointsB.Heavy = 34
	r.TierBreakpointsB.Ultra = 70
	return r
}

// loadRules reads classification rules from path, falling back to
// defaultRules when path is empty or names a file that does not exist.
// Any other read or parse error is returned.
func loadRules(path string) (classificationRules, error) {
	rules := defaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return rules, fmt.Errorf("modelregistry: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("modelregistry: parse %s: %w", path, err)
	}
	return rules, nil
}

// parseParameterCount turns an Ollama-style parameter-size label like
// "7B", "13b", "400M" into billions of parameters.
func parseParameterCount(label string) float64 {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0
	}
	unit := label[len(label)-1]
	numeric := label[:len(label)-1]
	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case 'B', 'b':
		return value
	case 'M', 'm':
		return value / 1000
	case 'T', 't':
		return value * 1000
	default:
		return 0
	}
}

func containsAny(haystack string, needles []string) bool {
	haystack = strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// classify builds a ModelInfo from raw discovery fields, or returns ok
// = false if the model is embedding-only and should be excluded from
// the registry entirely.
func classify(rules classificationRules, name string, sizeBytes int64, parameterSize, quantization, family string) (ModelInfo, bool) {
	if containsAny(name, rules.EmbeddingSubstrings) {
		return ModelInfo{}, false
	}

	paramCount := parseParameterCount(parameterSize)

	baseQuality, ok := rules.FamilyBaseQuality[strings.ToLower(family)]
	if !ok {
		baseQuality = rules.DefaultBaseQuality
	}

	// Scale quality up with parameter count, saturating at 1.0, so
	// estimated_quality stays monotone non-decreasing within a family
	// as parameter count rises.
	quality := baseQuality + (paramCount/100.0)*(1.0-baseQuality)
	if quality > 1.0 {
		quality = 1.0
	}

	var tier Tier
	switch {
	case paramCount >= rules.TierBreakpointsB.Ultra:
		tier = TierUltra
	case paramCount >= rules.TierBreakpointsB.Heavy:
		tier = TierHeavy
	case paramCount >= rules.TierBreakpointsB.Standard:
		tier = TierStandard
	default:
		tier = TierLight
	}

	info := ModelInfo{
		Name:             name,
		SizeBytes:        sizeBytes,
		ParameterSize:    parameterSize,
		ParameterCount:   paramCount,
		Quantization:     quantization,
		Family:           family,
		IsCoder:          containsAny(name, rules.CoderSubstrings),
		IsReasoning:      containsAny(name, rules.ReasoningSubstrings),
		EstimatedQuality: quality,
		Tier:             tier,
	}
	return info, true
}
