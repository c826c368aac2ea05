// Prompt construction is a named external collaborator in spec.md §1
// ("prompt engineering / templates" is explicitly out of core scope),
// but a runnable binary still needs something concrete wired into each
// Stage. These builders are deliberately plain — they exist to drive
// the pipeline end to end, not to demonstrate prompt-engineering craft.
package main

import (
	"fmt"
	"strings"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/modelregistry"
)

func plannerPrompt(inputs agent.Inputs, sel modelregistry.ModelSelection) (string, error) {
	task, _ := inputs["task"].(string)
	var b strings.Builder
	b.WriteString("You are the planning stage of a code-generation pipeline.\n")
	b.WriteString("Break the following task into a short, numbered implementation plan.\n")
	fmt.Fprintf(&b, "Task: %s\n", task)
	if !sel.IsReasoning {
		b.WriteString("Think step by step before answering.\n")
	}
	return b.String(), nil
}

func testerPrompt(inputs agent.Inputs, sel modelregistry.ModelSelection) (string, error) {
	task, _ := inputs["task"].(string)
	plan, _ := inputs["plan"].(string)
	var b strings.Builder
	b.WriteString("You are the test-design stage of a code-generation pipeline.\n")
	b.WriteString("Given the task and plan below, write a short list of test cases the implementation must satisfy.\n")
	fmt.Fprintf(&b, "Task: %s\nPlan:\n%s\n", task, plan)
	return b.String(), nil
}

func coderPrompt(inputs agent.Inputs, sel modelregistry.ModelSelection) (string, error) {
	task, _ := inputs["task"].(string)
	plan, _ := inputs["plan"].(string)
	tests, _ := inputs["tests"].(string)
	retryHint, _ := inputs["retry_hint"].(string)

	var b strings.Builder
	b.WriteString("You are the coding stage of a code-generation pipeline.\n")
	fmt.Fprintf(&b, "Task: %s\nPlan:\n%s\nTests:\n%s\n", task, plan, tests)
	if retryHint != "" {
		fmt.Fprintf(&b, "\nThe previous attempt did not pass validation: %s\nRevise the implementation accordingly.\n", retryHint)
	}
	b.WriteString("Respond with the complete implementation only.\n")
	return b.String(), nil
}

// isGreeting is the greeting/trivial-intent fast path spec.md §4.6
// describes: a short, conversational opener shouldn't drive the full
// planner/tester/coder pipeline.
func isGreeting(inputs agent.Inputs) bool {
	task, _ := inputs["task"].(string)
	task = strings.ToLower(strings.TrimSpace(task))
	if len(task) == 0 || len(task) > 24 {
		return false
	}
	switch strings.Trim(task, "!.? ") {
	case "hi", "hello", "hey", "yo", "good morning", "good afternoon", "good evening", "thanks", "thank you":
		return true
	default:
		return false
	}
}
