// Package llm wraps the local model server's generate/generate-stream
// HTTP protocol: line-delimited JSON frames shaped {response, done}
// over a connection held by pool.Pool. Its hard problem is demultiplexing
// <think> blocks out of the raw token stream without ever emitting a
// partial tag.
package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/pool"
	"github.com/forgemind/agentforge/resilience"
	"github.com/forgemind/agentforge/telemetry"
)

// Options configures a single generate/generate-stream call.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
	NumPredict  int
	Timeout     time.Duration
}

// StreamChunk is one unit of a generate-stream response, tagged with
// which output channel it belongs to.
type StreamChunk struct {
	Content      string
	IsThinking   bool
	IsDone       bool
	FullResponse string
}

// Client drives generate/generate-stream calls against the model
// server through a Pool, retrying single-shot calls with backoff and
// demultiplexing <think> blocks out of streaming calls. Every call
// against the pool is gated by a CircuitBreaker so a model server that
// starts failing consistently stops accepting new attempts instead of
// queuing them up behind the pool's own concurrency cap.
type Client struct {
	pool    *pool.Pool
	logger  core.Logger
	backoff resilience.BackoffPolicy
	breaker *resilience.CircuitBreaker
}

// New builds a Client over p. A nil logger defaults to a no-op.
func New(p *pool.Pool, logger core.Logger, backoffPolicy resilience.BackoffPolicy) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		pool:    p,
		logger:  logger,
		backoff: backoffPolicy,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("llm-model-server")),
	}
}

// poolRequest gates a single-shot pool.Request call behind the circuit
// breaker, recording the outcome against its sliding window.
func (c *Client) poolRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if !c.breaker.CanExecute() {
		return nil, core.ErrCircuitBreakerOpen
	}
	data, err := c.pool.Request(ctx, method, path, body)
	if resilience.DefaultErrorClassifier(err) {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return data, err
}

// poolStream gates opening a pool.Stream call behind the circuit
// breaker. A mid-stream transport failure is recorded separately by
// demux once it's observed, since opening the stream can succeed while
// reading it still fails.
func (c *Client) poolStream(ctx context.Context, method, path string, body io.Reader) (io.ReadCloser, error) {
	if !c.breaker.CanExecute() {
		return nil, core.ErrCircuitBreakerOpen
	}
	rc, err := c.pool.Stream(ctx, method, path, body)
	if resilience.DefaultErrorClassifier(err) {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return rc, err
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type generateFrame struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func buildRequestBody(model, prompt string, opts Options, stream bool) generateRequest {
	numPredict := opts.NumPredict
	if len(prompt) < 500 && numPredict > 0 {
		// Short prompts with a large predict budget are dominated by
		// generation latency, not context processing; cap the budget
		// so a single call can't stall the stream.
		half := numPredict / 2
		if half > 0 {
			numPredict = half
		}
	}
	return generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: stream,
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
			"top_p":       opts.TopP,
			"num_predict": numPredict,
		},
	}
}

// Generate completes prompt in a single shot, retrying on timeout or
// transport error with exponential backoff. It never returns an error
// to the caller for retryable failures — exhausting all attempts
// yields an empty string, with the failure recorded via the logger —
// but does return a *Error for KindModelUnavailable so the router can
// react.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	defer telemetry.Duration(telemetry.MetricLLMRequestDurationMS, start, "model", opts.Model, "mode", "single-shot")

	body := buildRequestBody(opts.Model, prompt, opts, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Kind: KindInternal, Err: fmt.Errorf("marshal request: %w", err)}
	}

	result, retryErr := resilience.Retry(ctx, c.backoff, func() (string, error) {
		callCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		data, err := c.poolRequest(callCtx, http.MethodPost, "/api/generate", strings.NewReader(string(payload)))
		if err != nil {
			if errors.Is(err, core.ErrCircuitBreakerOpen) {
				return "", resilience.Permanent(modelUnavailableError(opts.Model, err))
			}
			classified := c.classifyTransportError(opts.Model, callCtx, err)
			if classified.Kind == KindModelUnavailable {
				return "", resilience.Permanent(classified)
			}
			return "", classified
		}

		var frame generateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return "", resilience.Permanent(&Error{Kind: KindInternal, Err: fmt.Errorf("decode response: %w", err)})
		}
		return frame.Response, nil
	})

	if retryErr != nil {
		var classified *Error
		if errors.As(retryErr, &classified) && classified.Kind == KindModelUnavailable {
			return "", classified
		}
		c.logger.Warn("generate exhausted retries", map[string]interface{}{
			"model": opts.Model,
			"error": retryErr.Error(),
		})
		telemetry.RecordError(telemetry.MetricLLMErrors, "exhausted_retries", "model", opts.Model)
		return "", nil
	}
	return result, nil
}

func (c *Client) classifyTransportError(model string, ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return cancelledError(err)
	}
	if strings.Contains(err.Error(), "404") || strings.Contains(strings.ToLower(err.Error()), "model") && strings.Contains(strings.ToLower(err.Error()), "not found") {
		return modelUnavailableError(model, err)
	}
	return transportError(err)
}

// GenerateStream opens a streaming generate call and returns a channel
// of StreamChunk values; the final value has IsDone set unless ctx is
// done first, in which case the channel may close without it. An
// error return means the request itself never started. Once started,
// a transport failure mid-stream is logged and the stream still ends
// with a done chunk aggregating whatever was received before it.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan StreamChunk, error) {
	body := buildRequestBody(opts.Model, prompt, opts, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Err: fmt.Errorf("marshal request: %w", err)}
	}

	streamCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	respBody, err := c.poolStream(streamCtx, http.MethodPost, "/api/generate", strings.NewReader(string(payload)))
	if err != nil {
		if cancel != nil {
			cancel()
		}
		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			return nil, modelUnavailableError(opts.Model, err)
		}
		classified := c.classifyTransportError(opts.Model, streamCtx, err)
		return nil, classified
	}

	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		if cancel != nil {
			defer cancel()
		}
		defer respBody.Close()
		c.demux(streamCtx, respBody, out, opts.Model)
	}()

	return out, nil
}

func (c *Client) demux(ctx context.Context, body io.Reader, out chan<- StreamChunk, model string) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sm := newTagStateMachine()
	var full strings.Builder

	emit := func(text string, isThinking bool) {
		if text == "" {
			return
		}
		full.WriteString(text)
		select {
		case out <- StreamChunk{Content: text, IsThinking: isThinking}:
		case <-ctx.Done():
		}
		telemetry.Counter(telemetry.MetricReasoningChunksEmitted, "model", model)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame generateFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.logger.Warn("skipping malformed stream frame", map[string]interface{}{"error": err.Error()})
			continue
		}

		flushed, thinking := sm.feed(frame.Response)
		for i, text := range flushed {
			emit(text, thinking[i])
		}

		if frame.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("stream ended with transport error", map[string]interface{}{"error": err.Error()})
		telemetry.RecordError(telemetry.MetricLLMErrors, "stream_transport", "model", model)
		c.breaker.RecordFailure()
	}

	tail, wasThinking, hadUnclosed := sm.flushRemainder()
	if hadUnclosed {
		c.logger.Warn("stream ended with unclosed think block", map[string]interface{}{"model": model})
	}
	emit(tail, wasThinking)

	select {
	case out <- StreamChunk{IsDone: true, FullResponse: full.String()}:
	case <-ctx.Done():
	}
}
