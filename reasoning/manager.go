package reasoning

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/llm"
	"github.com/forgemind/agentforge/telemetry"
)

type managerState int

const (
	stateIdle managerState = iota
	stateThinking
	stateContent
)

const maxSummaryLen = 150

// Manager drives one invocation's worth of llm.StreamChunk values
// through the thinking/content state machine and emits ready-to-write
// SSE Frames. A Manager is single-use: construct one per stream.
type Manager struct {
	cfg    Config
	logger core.Logger

	interrupted atomic.Bool
}

// NewManager builds a Manager. A nil logger defaults to a no-op.
func NewManager(cfg Config, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Interrupt flips the atomic flag the run loop samples between chunks.
// Safe to call concurrently with Run; a no-op after the stream ends.
func (m *Manager) Interrupt() {
	m.interrupted.Store(true)
}

// Run consumes chunks until it closes or ctx is done, emitting Output
// values on the returned channel. The channel is always closed exactly
// once; the last value sent is KindDone unless ctx is done first, in
// which case pending frames, including the done, may be dropped.
func (m *Manager) Run(ctx context.Context, sessionID, stage string, chunks <-chan llm.StreamChunk) <-chan Output {
	out := make(chan Output, 16)
	go m.loop(ctx, sessionID, stage, chunks, out)
	return out
}

func (m *Manager) loop(ctx context.Context, sessionID, stage string, chunks <-chan llm.StreamChunk, out chan<- Output) {
	defer close(out)

	state := stateIdle
	var thinkingBuf strings.Builder
	var contentBuf strings.Builder
	var thinkingStart time.Time

	emit := func(o Output) bool {
		select {
		case out <- o:
			return true
		case <-ctx.Done():
			return false
		}
	}

	emitContent := func(text string) {
		if text == "" {
			return
		}
		contentBuf.WriteString(text)
		frame := &Frame{
			ID:    time.Now().Unix(),
			Event: stage + "_chunk",
			Data:  ChunkPayload{Content: text, SessionID: sessionID, Timestamp: time.Now().Unix()},
		}
		emit(Output{Kind: KindContent, Frame: frame})
	}

	emitThinking := func(status ThinkingStatus, content string, summary string) {
		frame := &Frame{
			ID:    time.Now().Unix(),
			Event: "thinking_" + string(status),
			Data: ThinkingPayload{
				Stage:      stage,
				Content:    content,
				Status:     status,
				ElapsedMS:  time.Since(thinkingStart).Milliseconds(),
				TotalChars: thinkingBuf.Len(),
				Timestamp:  time.Now().Unix(),
				Summary:    summary,
			},
		}
		emit(Output{Kind: KindThinking, Frame: frame})
		telemetry.Counter(telemetry.MetricReasoningStateTransitions, "status", string(status))
	}

	finishDone := func() {
		emit(Output{Kind: KindDone, FullResponse: contentBuf.String()})
	}

	closeThinking := func(status ThinkingStatus) {
		summary := ""
		if m.cfg.ShowSummaryOnly || status == StatusInterrupted {
			summary = summarize(thinkingBuf.String())
		}
		content := thinkingBuf.String()
		if m.cfg.ShowSummaryOnly {
			content = ""
		}
		emitThinking(status, content, summary)
	}

	// startThinking emits thinking_started with TotalChars still at
	// zero (nothing buffered yet), then runs the first chunk's text
	// through the same in_progress path stateThinking uses for every
	// subsequent chunk — a single-chunk thinking block still produces
	// started, in_progress, completed, per the original
	// (infrastructure/reasoning_stream.py), not just started+completed.
	startThinking := func(firstChunkText string) {
		thinkingStart = time.Now()
		thinkingBuf.Reset()
		emitThinking(StatusStarted, "", "")
		thinkingBuf.WriteString(firstChunkText)
		if !m.cfg.ShowSummaryOnly {
			m.emitResplit(stage, firstChunkText, thinkingStart, thinkingBuf.Len(), emit)
		}
	}

	var timer *time.Timer
	armTimer := func() {
		if m.cfg.MaxThinkingTimeMS <= 0 {
			return
		}
		timer = time.NewTimer(time.Duration(m.cfg.MaxThinkingTimeMS) * time.Millisecond)
	}
	disarmTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer disarmTimer()

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if state == stateThinking {
				closeThinking(StatusInterrupted)
			}
			finishDone()
			return

		case <-timerC:
			closeThinking(StatusCompleted)
			disarmTimer()
			state = stateContent

		case chunk, ok := <-chunks:
			if !ok {
				if state == stateThinking {
					closeThinking(StatusCompleted)
				}
				finishDone()
				return
			}

			if m.interrupted.Load() {
				if state == stateThinking {
					closeThinking(StatusInterrupted)
				}
				finishDone()
				return
			}

			if chunk.IsDone {
				if state == stateThinking {
					closeThinking(StatusCompleted)
				}
				finishDone()
				return
			}

			switch state {
			case stateIdle:
				if chunk.IsThinking {
					startThinking(chunk.Content)
					armTimer()
					state = stateThinking
				} else {
					emitContent(chunk.Content)
					state = stateContent
				}

			case stateThinking:
				if chunk.IsThinking {
					thinkingBuf.WriteString(chunk.Content)
					if !m.cfg.ShowSummaryOnly {
						m.emitResplit(stage, chunk.Content, thinkingStart, thinkingBuf.Len(), emit)
					}
				} else {
					closeThinking(StatusCompleted)
					disarmTimer()
					emitContent(chunk.Content)
					state = stateContent
				}

			case stateContent:
				if chunk.IsThinking {
					startThinking(chunk.Content)
					armTimer()
					state = stateThinking
				} else {
					emitContent(chunk.Content)
				}
			}
		}
	}
}

// emitResplit re-slices a long thinking chunk into Config.ChunkSize
// pieces, pacing each one after the first by Config.DebounceMS. A
// chunk no longer than ChunkSize is emitted as a single in_progress
// frame with no delay — the debounce only applies to post-hoc
// resplitting, never between fresh chunks from the LLM.
func (m *Manager) emitResplit(stage, text string, thinkingStart time.Time, totalCharsAfter int, emit func(Output) bool) {
	baseTotal := totalCharsAfter - len(text)

	if m.cfg.ChunkSize <= 0 || len(text) <= m.cfg.ChunkSize {
		emit(Output{Kind: KindThinking, Frame: &Frame{
			ID:    time.Now().Unix(),
			Event: "thinking_in_progress",
			Data: ThinkingPayload{
				Stage: stage, Content: text, Status: StatusInProgress,
				ElapsedMS: time.Since(thinkingStart).Milliseconds(), TotalChars: totalCharsAfter,
				Timestamp: time.Now().Unix(),
			},
		}})
		return
	}

	remaining := text
	running := baseTotal
	for len(remaining) > 0 {
		n := m.cfg.ChunkSize
		if n > len(remaining) {
			n = len(remaining)
		}
		piece := remaining[:n]
		remaining = remaining[n:]
		running += len(piece)

		emit(Output{Kind: KindThinking, Frame: &Frame{
			ID:    time.Now().Unix(),
			Event: "thinking_in_progress",
			Data: ThinkingPayload{
				Stage: stage, Content: piece, Status: StatusInProgress,
				ElapsedMS: time.Since(thinkingStart).Milliseconds(), TotalChars: running,
				Timestamp: time.Now().Unix(),
			},
		}})

		if len(remaining) > 0 && m.cfg.DebounceMS > 0 {
			time.Sleep(time.Duration(m.cfg.DebounceMS) * time.Millisecond)
		}
	}
}

// summarize returns the first sentence of text, truncated to
// maxSummaryLen runes.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	end := len(text)
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.Index(text, sep); idx >= 0 && idx+1 < end {
			end = idx + 1
			break
		}
	}
	summary := text[:end]
	runes := []rune(summary)
	if len(runes) > maxSummaryLen {
		runes = runes[:maxSummaryLen]
	}
	return string(runes)
}
