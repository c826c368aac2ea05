package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/llm"
	"github.com/forgemind/agentforge/modelregistry"
	"github.com/forgemind/agentforge/reasoning"
	"github.com/forgemind/agentforge/telemetry"
)

// StageSet is the fixed agent lineup one Run drives, built fresh per
// invocation since each agent.Agent is single-use.
type StageSet struct {
	Planner agent.Stage
	Tester  agent.Stage
	Coder   agent.Stage
}

// AgentFactory builds a fresh Agent for one stage invocation. Tests
// substitute this to stub model behavior without a real pool/router.
type AgentFactory func(stage agent.Stage) *agent.Agent

// Orchestrator drives StageSet's planner/tester/coder sequence for one
// session, persisting every stage event into an eventstore.Store and
// reflecting on the coder's output via a Validator, re-entering from
// the coding stage when the composite quality score falls short
// (spec.md §4.7). It is the sole writer of session events; per-stage
// agent.DonePayload events are swallowed here and never forwarded —
// the orchestrator synthesizes the one true terminal done event itself
// (spec.md §8 invariant 2).
type Orchestrator struct {
	store     *eventstore.Store
	newAgent  AgentFactory
	validator Validator
	metrics   *telemetry.StageMetricsTracker
	cfg       Config
	logger    core.Logger

	// runFunc, when set, replaces newAgent(stage).Stream as the source
	// of stage events. Production wiring leaves this nil; tests use it
	// to stub stage behavior since agent.Agent has no interface seam.
	runFunc func(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) <-chan agent.Event
}

// New builds an Orchestrator. A nil validator defaults to NoOpValidator;
// a nil metrics tracker disables stage-duration persistence; a nil
// logger defaults to a no-op.
func New(store *eventstore.Store, newAgent AgentFactory, validator Validator, metrics *telemetry.StageMetricsTracker, cfg Config, logger core.Logger) *Orchestrator {
	if validator == nil {
		validator = NoOpValidator
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Orchestrator{store: store, newAgent: newAgent, validator: validator, metrics: metrics, cfg: cfg, logger: logger}
}

// Run drives stages to completion for sessionID, returning the final
// artifact, composite quality score, and iteration count. It always
// persists exactly one done event to the store before returning,
// whether it succeeds, is cancelled, or runs out of retries. extra
// seeds the initial Inputs alongside "task" — the gateway uses this to
// thread a request's model/temperature overrides (agent.preferredModel
// / overrideFloat) through to every stage; a nil extra is fine.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, stages StageSet, task string, extra agent.Inputs) (string, float64, int) {
	defer telemetry.Duration(telemetry.MetricOrchestratorRunDurationMS, time.Now())

	inputs := agent.Inputs{"task": task}
	for k, v := range extra {
		inputs[k] = v
	}

	planArtifact, ok := o.runStage(ctx, sessionID, stages.Planner, inputs)
	if !ok {
		return o.finish(sessionID, "", 0, 0)
	}
	inputs["plan"] = planArtifact

	testArtifact, ok := o.runStage(ctx, sessionID, stages.Tester, inputs)
	if !ok {
		return o.finish(sessionID, "", 0, 0)
	}
	inputs["tests"] = testArtifact

	var artifact string
	var score float64
	iterations := 0

	for {
		if ctx.Err() != nil {
			return o.finish(sessionID, artifact, score, iterations)
		}

		iterations++
		codeArtifact, ok := o.runStage(ctx, sessionID, stages.Coder, inputs)
		if !ok {
			return o.finish(sessionID, artifact, score, iterations)
		}
		artifact = codeArtifact

		result, err := o.validator.Validate(ctx, artifact)
		if err != nil {
			o.logger.Warn("validation failed to run", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
			break
		}
		score = QualityScore(result)

		if score >= o.cfg.QualityThreshold || iterations > o.cfg.MaxRetries {
			break
		}

		inputs["retry_hint"] = fmt.Sprintf("previous attempt scored %.2f; tests_passed=%v types_passed=%v security_passed=%v static_issues=%d",
			score, result.TestsPassed, result.TypesPassed, result.SecurityPassed, result.StaticIssues)
	}

	return o.finish(sessionID, artifact, score, iterations)
}

// runStage runs one stage to completion, persisting every event it
// emits except its own done event, and returns the stage's artifact.
// ok is false when the stage produced an error event, signaling the
// caller should stop the pipeline early.
func (o *Orchestrator) runStage(ctx context.Context, sessionID string, stage agent.Stage, inputs agent.Inputs) (string, bool) {
	start := time.Now()

	var events <-chan agent.Event
	if o.runFunc != nil {
		events = o.runFunc(ctx, sessionID, stage, inputs)
	} else {
		events = o.newAgent(stage).Stream(ctx, sessionID, inputs)
	}

	var artifact string
	ok := true
	for ev := range events {
		switch p := ev.Payload.(type) {
		case agent.DonePayload:
			artifact = p.Artifact
			continue // swallowed: the orchestrator emits its own terminal done
		case agent.ErrorPayload:
			ok = false
			o.store.SaveEvent(sessionID, eventstore.EventError, p)
		default:
			o.store.SaveEvent(sessionID, ev.Type, ev.Payload)
		}
	}

	if o.metrics != nil {
		o.metrics.Record(stage.Name, float64(time.Since(start).Milliseconds()))
	}
	return artifact, ok
}

// finish persists the single terminal done event for sessionID and
// returns its fields.
func (o *Orchestrator) finish(sessionID, artifact string, score float64, iterations int) (string, float64, int) {
	o.store.SaveEvent(sessionID, eventstore.EventDone, DonePayload{
		SessionID:    sessionID,
		Artifact:     artifact,
		QualityScore: score,
		Iterations:   iterations,
	})
	telemetry.Gauge(telemetry.MetricOrchestratorQualityScore, score)
	if iterations > 1 {
		telemetry.Counter(telemetry.MetricOrchestratorReflections, "session_id", sessionID)
	}
	return artifact, score, iterations
}

// DefaultFactory builds stage agents against a shared llm client and
// router, the wiring cmd/agentforge uses in production.
func DefaultFactory(client *llm.Client, router *modelregistry.Router, rcfg reasoning.Config, logger core.Logger) AgentFactory {
	return func(stage agent.Stage) *agent.Agent {
		return agent.New(stage, client, router, rcfg, logger)
	}
}
