package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStageMetricsTrackerPersistsEveryTenthSample(t *testing.T) {
	dir := t.TempDir()
	tr := NewStageMetricsTracker(dir)

	for i := 0; i < 9; i++ {
		tr.Record("coder", 100)
	}
	if _, err := os.Stat(filepath.Join(dir, "stage_metrics.json")); err == nil {
		t.Fatal("expected no file before the 10th sample")
	}

	tr.Record("coder", 200)
	data, err := os.ReadFile(filepath.Join(dir, "stage_metrics.json"))
	if err != nil {
		t.Fatalf("expected stage_metrics.json after 10th sample: %v", err)
	}

	var snapshot map[string]StageMetrics
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot["coder"].Count != 10 {
		t.Fatalf("expected 10 samples recorded, got %+v", snapshot["coder"])
	}
}

func TestDeriveStatsMinMaxMedian(t *testing.T) {
	s := deriveStats([]float64{10, 20, 30, 40})
	if s.MinMS != 10 || s.MaxMS != 40 {
		t.Fatalf("unexpected min/max: %+v", s)
	}
	if s.MedMS != 25 {
		t.Fatalf("expected median 25, got %v", s.MedMS)
	}
}

func TestNewSystemBenchmarkMultiplier(t *testing.T) {
	b := NewSystemBenchmark(40, 120, "llama3")
	if b.PerformanceMultiplier != 2.0 {
		t.Fatalf("expected multiplier 2.0 for double the baseline, got %v", b.PerformanceMultiplier)
	}
}
