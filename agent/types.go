// Package agent wraps one reasoning.Manager invocation with prompt
// construction and model-fallback retry, implementing spec.md §4.6's
// planner/coder/tester/debugger/reflector/critic stage. Prompt
// templates themselves stay an external collaborator (spec.md §1's
// stated non-goal); agent only depends on the PromptBuilder interface.
package agent

import (
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/modelregistry"
)

// Inputs carries whatever a PromptBuilder needs to render a stage's
// prompt — prior-stage artifacts, the user's task text, retry hints.
type Inputs map[string]interface{}

// PromptBuilder renders the prompt text for one stage invocation. The
// selected model is passed through so a builder can tailor the prompt
// to a model's known capabilities (e.g. a non-reasoning fallback model
// may need an explicit "think step by step" nudge a reasoning model
// doesn't).
type PromptBuilder interface {
	Build(inputs Inputs, selection modelregistry.ModelSelection) (string, error)
}

// PromptBuilderFunc adapts a function to PromptBuilder.
type PromptBuilderFunc func(inputs Inputs, selection modelregistry.ModelSelection) (string, error)

func (f PromptBuilderFunc) Build(inputs Inputs, selection modelregistry.ModelSelection) (string, error) {
	return f(inputs, selection)
}

// GenOptions are the generation parameters a Stage uses by default;
// Inputs may override Temperature/TopP/NumPredict per call (the
// gateway surfaces these as request fields, spec.md §6).
type GenOptions struct {
	Temperature float64
	TopP        float64
	NumPredict  int
	TimeoutMS   int
}

// Stage configures one pipeline role. Stages are data, not distinct
// types, since the only thing that varies between planner/coder/
// tester/debugger/reflector/critic is the prompt, target complexity,
// and how the raw model output is cleaned up.
type Stage struct {
	Name          string
	TaskType      modelregistry.TaskType
	Complexity    modelregistry.Complexity // zero value lets the router pick a default
	PromptBuilder PromptBuilder
	PostProcess   func(raw string) string
	Options       GenOptions
	// IsTrivial, when set, short-circuits Stream/Run straight to an
	// empty done event without calling the model at all — the
	// greeting/trivial-intent fast path spec.md §4.6 describes.
	IsTrivial func(inputs Inputs) bool
}

// Event is one (event_type, payload) pair an Agent emits, mirroring
// spec.md §9's "typed channel of a sum-typed AgentEvent variant"
// guidance in place of a bare tuple.
type Event struct {
	Type    eventstore.EventType
	Payload interface{}
}

// DonePayload is the payload of the terminal done event a Stream run
// always emits exactly once.
type DonePayload struct {
	Artifact string
}

// ErrorPayload is the payload of an error event preceding a failed
// run's done event, shaped per spec.md §6's error schema.
type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
