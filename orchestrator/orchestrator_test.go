package orchestrator

import (
	"context"
	"testing"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/eventstore"
)

// stageRunner replaces a real agent.Agent's Stream method in tests, so
// Orchestrator's retry/swallow/persist logic can be exercised without a
// model server. Orchestrator's production path still goes through a
// real *agent.Agent; tests substitute runFunc directly since
// agent.Agent exposes no interface seam.
type stageRunner func(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) <-chan agent.Event

func newTestOrchestrator(t *testing.T, run stageRunner, cfg Config) (*Orchestrator, *eventstore.Store) {
	t.Helper()
	store := eventstore.New(eventstore.Limits{MaxSessions: 10}, nil)
	t.Cleanup(store.Close)

	o := &Orchestrator{
		store:     store,
		validator: NoOpValidator,
		cfg:       cfg,
	}
	o.runFunc = run
	return o, store
}

func TestOrchestratorHappyPathEmitsSingleDone(t *testing.T) {
	scripts := map[string][]string{
		"planner": {"a plan"},
		"tester":  {"some tests"},
		"coder":   {"print(\"hi\")"},
	}
	calls := map[string]int{}

	run := func(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) <-chan agent.Event {
		out := make(chan agent.Event, 2)
		idx := calls[stage.Name]
		calls[stage.Name] = idx + 1
		artifact := scripts[stage.Name][idx]
		go func() {
			defer close(out)
			out <- agent.Event{Type: eventstore.EventCodeChunk, Payload: artifact}
			out <- agent.Event{Type: eventstore.EventDone, Payload: agent.DonePayload{Artifact: artifact}}
		}()
		return out
	}

	o, store := newTestOrchestrator(t, run, Config{QualityThreshold: 0.70, MaxRetries: 2})
	validator := ValidatorFunc(func(ctx context.Context, artifact string) (ValidationResult, error) {
		return ValidationResult{TestsPassed: true, TypesPassed: true, SecurityPassed: true}, nil
	})
	o.validator = validator

	artifact, score, iterations := o.Run(context.Background(), "sess-1", StageSet{
		Planner: agent.Stage{Name: "planner"},
		Tester:  agent.Stage{Name: "tester"},
		Coder:   agent.Stage{Name: "coder"},
	}, "print hello", nil)

	if artifact != "print(\"hi\")" {
		t.Fatalf("unexpected artifact: %q", artifact)
	}
	if score != 1.0 {
		t.Fatalf("expected perfect score, got %v", score)
	}
	if iterations != 1 {
		t.Fatalf("expected exactly one iteration, got %d", iterations)
	}

	all := store.GetAllEvents("sess-1")
	doneCount := 0
	for _, ev := range all {
		if ev.Type == eventstore.EventDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Fatalf("expected exactly one done event in the session log, got %d", doneCount)
	}
	last := all[len(all)-1]
	if last.Type != eventstore.EventDone {
		t.Fatalf("expected the final persisted event to be done, got %v", last.Type)
	}
	payload, ok := last.Payload.(DonePayload)
	if !ok {
		t.Fatalf("expected DonePayload, got %T", last.Payload)
	}
	if payload.Iterations != 1 || payload.SessionID != "sess-1" {
		t.Fatalf("unexpected done payload: %+v", payload)
	}
}

func TestOrchestratorRetriesUntilQualityThresholdMet(t *testing.T) {
	scripts := map[string][]string{
		"planner": {"a plan"},
		"tester":  {"some tests"},
		"coder":   {"bad attempt", "good attempt"},
	}
	calls := map[string]int{}

	run := func(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) <-chan agent.Event {
		out := make(chan agent.Event, 2)
		idx := calls[stage.Name]
		calls[stage.Name] = idx + 1
		artifact := scripts[stage.Name][idx]
		go func() {
			defer close(out)
			out <- agent.Event{Type: eventstore.EventDone, Payload: agent.DonePayload{Artifact: artifact}}
		}()
		return out
	}

	o, _ := newTestOrchestrator(t, run, Config{QualityThreshold: 0.70, MaxRetries: 2})
	o.validator = ValidatorFunc(func(ctx context.Context, artifact string) (ValidationResult, error) {
		if artifact == "good attempt" {
			return ValidationResult{TestsPassed: true, TypesPassed: true, SecurityPassed: true}, nil
		}
		return ValidationResult{TestsPassed: false, TypesPassed: true, SecurityPassed: true}, nil
	})

	artifact, score, iterations := o.Run(context.Background(), "sess-2", StageSet{
		Planner: agent.Stage{Name: "planner"},
		Tester:  agent.Stage{Name: "tester"},
		Coder:   agent.Stage{Name: "coder"},
	}, "print hello", nil)

	if artifact != "good attempt" {
		t.Fatalf("expected the reflected-on attempt to win, got %q", artifact)
	}
	if score < 0.70 {
		t.Fatalf("expected score >= threshold, got %v", score)
	}
	if iterations != 2 {
		t.Fatalf("expected exactly 2 iterations, got %d", iterations)
	}
}

func TestOrchestratorStopsAtMaxRetries(t *testing.T) {
	scripts := map[string][]string{
		"planner": {"a plan"},
		"tester":  {"some tests"},
		"coder":   {"bad", "bad", "bad"},
	}
	calls := map[string]int{}

	run := func(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) <-chan agent.Event {
		out := make(chan agent.Event, 2)
		idx := calls[stage.Name]
		calls[stage.Name] = idx + 1
		artifact := scripts[stage.Name][idx]
		go func() {
			defer close(out)
			out <- agent.Event{Type: eventstore.EventDone, Payload: agent.DonePayload{Artifact: artifact}}
		}()
		return out
	}

	o, _ := newTestOrchestrator(t, run, Config{QualityThreshold: 0.70, MaxRetries: 2})
	o.validator = ValidatorFunc(func(ctx context.Context, artifact string) (ValidationResult, error) {
		return ValidationResult{TestsPassed: false, TypesPassed: true, SecurityPassed: true}, nil
	})

	_, score, iterations := o.Run(context.Background(), "sess-3", StageSet{
		Planner: agent.Stage{Name: "planner"},
		Tester:  agent.Stage{Name: "tester"},
		Coder:   agent.Stage{Name: "coder"},
	}, "print hello", nil)

	if iterations != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 iterations, got %d", iterations)
	}
	if score >= 0.70 {
		t.Fatalf("expected the final score to stay below threshold, got %v", score)
	}
}

func TestQualityScoreWeightsAndPenalty(t *testing.T) {
	full := QualityScore(ValidationResult{TestsPassed: true, TypesPassed: true, SecurityPassed: true})
	if full != 1.0 {
		t.Fatalf("expected perfect score, got %v", full)
	}

	testsOnly := QualityScore(ValidationResult{TestsPassed: true})
	if testsOnly != 0.5 {
		t.Fatalf("expected tests weight 0.5, got %v", testsOnly)
	}

	penalized := QualityScore(ValidationResult{TestsPassed: true, TypesPassed: true, SecurityPassed: true, StaticIssues: 5})
	if penalized >= full {
		t.Fatalf("expected static issues to reduce the score below %v, got %v", full, penalized)
	}

	capped := QualityScore(ValidationResult{TestsPassed: true, TypesPassed: true, SecurityPassed: true, StaticIssues: 1000})
	if capped < 0 {
		t.Fatalf("expected the penalty to be bounded, never negative, got %v", capped)
	}
}
