package llm

import (
	"regexp"
	"strings"
)

// tagState is one of the two states the demultiplexer tracks for a
// single stream: OUTSIDE (content channel) or INSIDE_THINK (thinking
// channel).
type tagState int

const (
	tagStateOutside tagState = iota
	tagStateInsideThink
)

var (
	openerRe = regexp.MustCompile(`(?i)<\s*(think|thinking|thought)\b[^>]*>`)
	closerRe = regexp.MustCompile(`(?i)</\s*(think|thinking|thought)\s*>`)

	// shortPartialRe matches a "<" or "</" followed by any prefix of
	// think/thinking/thought, with nothing after it yet — the tag
	// keyword itself is still arriving.
	shortPartialRe = regexp.MustCompile(`(?i)^</?\s*(think|thinki|thinkin|thinking|thin|thi|tho|thou|thoug|though|thought|t|th)?$`)

	// longPartialPrefixRe matches a complete opener/closer keyword
	// whose closing ">" hasn't arrived yet (attributes still streaming in).
	longPartialPrefixRe = regexp.MustCompile(`(?i)^</?\s*(think|thinking|thought)\b`)
)

// tagStateMachine demultiplexes a raw token stream into thinking and
// content runs without ever emitting a partial <think>/<thinking>/
// <thought> tag. It holds back the tail of the buffer whenever that
// tail could still turn into a recognized tag as more text arrives.
type tagStateMachine struct {
	state tagState
	buf   string
}

func newTagStateMachine() *tagStateMachine {
	return &tagStateMachine{state: tagStateOutside}
}

// feed appends text to the internal buffer and returns every run of
// content this call was able to confirm, each paired with whether it
// belonged to the thinking channel at the time it was flushed.
func (sm *tagStateMachine) feed(text string) (flushed []string, thinking []bool) {
	sm.buf += text

	for {
		var match []int
		var re *regexp.Regexp
		if sm.state == tagStateOutside {
			re = openerRe
		} else {
			re = closerRe
		}
		match = re.FindStringIndex(sm.buf)

		if match == nil {
			break
		}

		pre := sm.buf[:match[0]]
		wasThinking := sm.state == tagStateInsideThink
		if pre != "" {
			flushed = append(flushed, pre)
			thinking = append(thinking, wasThinking)
		}

		if sm.state == tagStateOutside {
			sm.state = tagStateInsideThink
		} else {
			sm.state = tagStateOutside
		}
		sm.buf = sm.buf[match[1]:]
	}

	// No more complete tags in the buffer. Decide how much of the
	// remainder is safe to flush now versus holding back a possible
	// partial tag at the tail.
	holdFrom := sm.partialTagStart()
	if holdFrom < 0 {
		if sm.buf != "" {
			flushed = append(flushed, sm.buf)
			thinking = append(thinking, sm.state == tagStateInsideThink)
			sm.buf = ""
		}
		return flushed, thinking
	}

	if holdFrom > 0 {
		flushed = append(flushed, sm.buf[:holdFrom])
		thinking = append(thinking, sm.state == tagStateInsideThink)
	}
	sm.buf = sm.buf[holdFrom:]
	return flushed, thinking
}

// partialTagStart returns the index into sm.buf where a possibly-
// incomplete tag begins, or -1 if the buffer's tail cannot become a
// tag no matter what arrives next.
func (sm *tagStateMachine) partialTagStart() int {
	idx := strings.LastIndex(sm.buf, "<")
	if idx < 0 {
		return -1
	}
	tail := sm.buf[idx:]

	if shortPartialRe.MatchString(tail) {
		return idx
	}
	if longPartialPrefixRe.MatchString(tail) && !strings.Contains(tail, ">") {
		return idx
	}
	return -1
}

// flushRemainder is called once the underlying stream has ended. Any
// text still held back is emitted as-is; if it was being held while
// INSIDE_THINK, the think block is implicitly closed and hadUnclosed
// is true so the caller can log a warning.
func (sm *tagStateMachine) flushRemainder() (text string, wasThinking bool, hadUnclosed bool) {
	text = sm.buf
	wasThinking = sm.state == tagStateInsideThink
	hadUnclosed = sm.state == tagStateInsideThink
	sm.buf = ""
	sm.state = tagStateOutside
	return text, wasThinking, hadUnclosed
}
