package agent

import "strings"

// StripCodeFence trims a single leading/trailing Markdown code fence
// (```lang ... ```) from raw, the same trim the teacher applies to an
// LLM's JSON response in orchestration's micro-resolver before
// parsing. Coder/tester stages use this as their PostProcess.
func StripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// Drop an optional language tag on the opening fence line.
		firstLine := strings.TrimSpace(text[:nl])
		if firstLine != "" && !strings.Contains(firstLine, " ") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// TrimExplanation drops everything from the first Markdown heading or
// "Explanation:" marker onward, keeping only the artifact that
// precedes it. Stages whose model likes to append prose after the
// code/plan/test body use this.
func TrimExplanation(raw string) string {
	text := raw
	for _, marker := range []string{"\nExplanation:", "\n## ", "\n**Explanation"} {
		if idx := strings.Index(text, marker); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
