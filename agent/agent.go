package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/llm"
	"github.com/forgemind/agentforge/modelregistry"
	"github.com/forgemind/agentforge/reasoning"
	"github.com/forgemind/agentforge/telemetry"
)

// Agent drives one Stage's worth of prompting through an llm.Client
// and a reasoning.Manager, retrying once against a router-selected
// fallback model on llm.KindModelUnavailable. Construct one per stage
// invocation; it is not reusable across sessions.
type Agent struct {
	stage  Stage
	llm    *llm.Client
	router *modelregistry.Router
	rcfg   reasoning.Config
	logger core.Logger

	interrupted atomic.Bool
	current     atomic.Pointer[reasoning.Manager]
}

// New builds an Agent for stage. A nil logger defaults to a no-op.
func New(stage Stage, client *llm.Client, router *modelregistry.Router, rcfg reasoning.Config, logger core.Logger) *Agent {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Agent{stage: stage, llm: client, router: router, rcfg: rcfg, logger: logger}
}

// Interrupt sets a local flag the run loop checks between chunks and
// forwards to the active reasoning.Manager, if any is currently
// streaming. Safe to call concurrently with Stream/Run.
func (a *Agent) Interrupt() {
	a.interrupted.Store(true)
	if mgr := a.current.Load(); mgr != nil {
		mgr.Interrupt()
	}
}

// Stream runs the stage and returns a channel of Events. The channel
// is always closed exactly once, and its last value is always a
// DonePayload-carrying Event, per spec.md §8 invariant 2.
func (a *Agent) Stream(ctx context.Context, sessionID string, inputs Inputs) <-chan Event {
	out := make(chan Event, 16)
	go a.run(ctx, sessionID, inputs, out)
	return out
}

// Run drains Stream and returns the final artifact alongside the full
// event sequence, for callers that don't need incremental delivery.
func (a *Agent) Run(ctx context.Context, sessionID string, inputs Inputs) (string, []Event) {
	var artifact string
	events := make([]Event, 0, 8)
	for ev := range a.Stream(ctx, sessionID, inputs) {
		events = append(events, ev)
		if d, ok := ev.Payload.(DonePayload); ok {
			artifact = d.Artifact
		}
	}
	return artifact, events
}

func (a *Agent) run(ctx context.Context, sessionID string, inputs Inputs, out chan<- Event) {
	defer close(out)

	start := time.Now()
	defer telemetry.Duration(telemetry.MetricAgentStageDurationMS, start, "stage", a.stage.Name)

	if a.stage.IsTrivial != nil && a.stage.IsTrivial(inputs) {
		out <- Event{Type: eventstore.EventDone, Payload: DonePayload{Artifact: ""}}
		return
	}

	sctx := modelregistry.SelectionContext{Complexity: a.stage.Complexity}
	sel, err := a.router.SelectModel(a.stage.TaskType, preferredModel(inputs), sctx)
	if err != nil {
		a.emitFailure(out, "no_model_available", err, false)
		return
	}

	artifact, streamErr := a.streamOnce(ctx, sessionID, inputs, sel, out)
	if streamErr != nil {
		if !llm.IsModelUnavailable(streamErr) {
			a.emitFailure(out, "transport", streamErr, llm.IsRetryable(streamErr))
			return
		}

		telemetry.Counter(telemetry.MetricAgentStageRetries, "stage", a.stage.Name)
		fallback, fbErr := a.router.GetFallbackModel(sel.ModelName, a.stage.TaskType, a.stage.Complexity)
		if fbErr != nil || fallback == nil {
			a.logger.Warn("no fallback model available", map[string]interface{}{
				"stage": a.stage.Name, "failed_model": sel.ModelName,
			})
			out <- Event{Type: eventstore.EventDone, Payload: DonePayload{Artifact: ""}}
			return
		}

		// Rebuild the prompt against the fallback model — it may have
		// different capabilities than the one that just failed.
		artifact, streamErr = a.streamOnce(ctx, sessionID, inputs, *fallback, out)
		if streamErr != nil {
			a.emitFailure(out, "fallback_failed", streamErr, false)
			return
		}
	}

	processed := artifact
	if a.stage.PostProcess != nil {
		processed = a.stage.PostProcess(artifact)
	}
	out <- Event{Type: eventstore.EventDone, Payload: DonePayload{Artifact: processed}}
}

func (a *Agent) streamOnce(ctx context.Context, sessionID string, inputs Inputs, sel modelregistry.ModelSelection, out chan<- Event) (string, error) {
	prompt, err := a.stage.PromptBuilder.Build(inputs, sel)
	if err != nil {
		return "", err
	}

	opts := llm.Options{
		Model:       sel.ModelName,
		Temperature: overrideFloat(inputs, "temperature", a.stage.Options.Temperature),
		TopP:        a.stage.Options.TopP,
		NumPredict:  a.stage.Options.NumPredict,
	}
	if a.stage.Options.TimeoutMS > 0 {
		opts.Timeout = time.Duration(a.stage.Options.TimeoutMS) * time.Millisecond
	}

	chunks, err := a.llm.GenerateStream(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	mgr := reasoning.NewManager(a.rcfg, a.logger)
	a.current.Store(mgr)
	defer a.current.Store(nil)
	if a.interrupted.Load() {
		mgr.Interrupt()
	}

	var full string
	for o := range mgr.Run(ctx, sessionID, a.stage.Name, chunks) {
		switch o.Kind {
		case reasoning.KindThinking, reasoning.KindContent:
			out <- Event{Type: eventstore.EventType(o.Frame.Event), Payload: o.Frame.Data}
		case reasoning.KindDone:
			full = o.FullResponse
		}
	}
	return full, nil
}

func (a *Agent) emitFailure(out chan<- Event, kind string, err error, retryable bool) {
	a.logger.Error("agent stage failed", map[string]interface{}{
		"stage": a.stage.Name, "kind": kind, "error": err.Error(),
	})
	telemetry.RecordError(telemetry.MetricAgentStageErrors, kind, "stage", a.stage.Name)
	out <- Event{Type: eventstore.EventError, Payload: ErrorPayload{Kind: kind, Message: err.Error(), Retryable: retryable}}
	out <- Event{Type: eventstore.EventDone, Payload: DonePayload{Artifact: ""}}
}

func preferredModel(inputs Inputs) string {
	if v, ok := inputs["model"].(string); ok {
		return v
	}
	return ""
}

func overrideFloat(inputs Inputs, key string, fallback float64) float64 {
	if v, ok := inputs[key].(float64); ok {
		return v
	}
	return fallback
}
