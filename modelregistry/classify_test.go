package modelregistry

import "testing"

func TestParseParameterCount(t *testing.T) {
	cases := map[string]float64{
		"7B":    7,
		"13b":   13,
		"400M":  0.4,
		"1.5T":  1500,
		"":      0,
		"bogus": 0,
	}
	for label, want := range cases {
		if got := parseParameterCount(label); got != want {
			t.Errorf("parseParameterCount(%q) = %v, want %v", label, got, want)
		}
	}
}

func TestClassifyExcludesEmbeddingModels(t *testing.T) {
	rules := defaultRules()
	_, ok := classify(rules, "nomic-embed-text", 1000, "137M", "Q4_0", "bert")
	if ok {
		t.Fatal("expected embedding model to be excluded")
	}
}

func TestClassifyFlagsCoderAndReasoning(t *testing.T) {
	rules := defaultRules()

	coder, ok := classify(rules, "qwen2.5-coder", 1000, "7B", "Q4_0", "qwen")
	if !ok || !coder.IsCoder {
		t.Fatalf("expected qwen2.5-coder to be classified as coder, got %+v ok=%v", coder, ok)
	}

	reasoning, ok := classify(rules, "deepseek-r1", 1000, "32B", "Q4_0", "llama")
	if !ok || !reasoning.IsReasoning {
		t.Fatalf("expected deepseek-r1 to be classified as reasoning, got %+v ok=%v", reasoning, ok)
	}
}

func TestClassifyQualityMonotoneWithinFamily(t *testing.T) {
	rules := defaultRules()

	small, ok := classify(rules, "llama3", 1000, "8B", "Q4_0", "llama")
	if !ok {
		t.Fatal("expected llama3 8B to classify")
	}
	large, ok := classify(rules, "llama3", 1000, "70B", "Q4_0", "llama")
	if !ok {
		t.Fatal("expected llama3 70B to classify")
	}

	if !(large.EstimatedQuality >= small.EstimatedQuality) {
		t.Fatalf("expected quality to be monotone non-decreasing with size: 8B=%v 70B=%v", small.EstimatedQuality, large.EstimatedQuality)
	}
}

func TestClassifyTierBreakpoints(t *testing.T) {
	rules := defaultRules()

	light, _ := classify(rules, "phi3", 1000, "3.8B", "Q4_0", "phi")
	if light.Tier != TierLight {
		t.Fatalf("expected 3.8B model to be light tier, got %s", light.Tier)
	}

	standard, _ := classify(rules, "llama3", 1000, "8B", "Q4_0", "llama")
	if standard.Tier != TierStandard {
		t.Fatalf("expected 8B model to be standard tier, got %s", standard.Tier)
	}

	heavy, _ := classify(rules, "llama3", 1000, "34B", "Q4_0", "llama")
	if heavy.Tier != TierHeavy {
		t.Fatalf("expected 34B model to be heavy tier, got %s", heavy.Tier)
	}

	ultra, _ := classify(rules, "llama3", 1000, "70B", "Q4_0", "llama")
	if ultra.Tier != TierUltra {
		t.Fatalf("expected 70B model to be ultra tier, got %s", ultra.Tier)
	}
}

func TestLoadRulesFallsBackOnMissingFile(t *testing.T) {
	rules, err := loadRules("/nonexistent/path/models.yaml")
	if err != nil {
		t.Fatalf("expected missing rules file to fall back silently, got %v", err)
	}
	if len(rules.CoderSubstrings) == 0 {
		t.Fatal("expected default rules to be populated")
	}
}
