package agents

import (
	"context"
	"fmt"
	"strings"
)

// Generator produces text for a stage prompt. The daemon wires either the
// remote generation client or the deterministic fallback at startup.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	researchRole = "You are a technical research assistant."
	writingRole  = "You are a technical writer."

	researchSubjectStart = "Gather key features, architecture, and use-cases for:\n"
	researchSubjectEnd   = "\nReturn concise structured research notes."
)

func researchPrompt(input string) string {
	return researchRole + "\n" + researchSubjectStart + input + researchSubjectEnd
}

func writingPrompt(research string) string {
	return writingRole + "\n" +
		"Using the following research notes, produce a concise " +
		"technical comparison summary with:\n" +
		"- Overview\n" +
		"- Key differences\n" +
		"- When to use each\n\n" +
		research
}

// FallbackGenerator returns canned stage output so the workflow remains fully
// exercisable without a generation API key.
type FallbackGenerator struct{}

// Generate inspects the stage role embedded in the prompt and returns the
// matching deterministic template.
func (FallbackGenerator) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, researchRole):
		return fallbackResearch(researchSubject(prompt)), nil
	case strings.HasPrefix(prompt, writingRole):
		return fallbackWriting, nil
	default:
		return "", fmt.Errorf("fallback generator: unrecognized prompt role")
	}
}

func researchSubject(prompt string) string {
	start := strings.Index(prompt, researchSubjectStart)
	if start < 0 {
		return "the requested topic"
	}
	rest := prompt[start+len(researchSubjectStart):]
	if end := strings.Index(rest, researchSubjectEnd); end >= 0 {
		rest = rest[:end]
	}
	subject := strings.TrimSpace(rest)
	if subject == "" {
		return "the requested topic"
	}
	return subject
}

func fallbackResearch(subject string) string {
	return "Research notes for: " + subject + "\n" +
		"- Feature A\n" +
		"- Feature B\n" +
		"- Use cases\n"
}

const fallbackWriting = "Technical Comparison Summary\n\n" +
	"Overview:\n" +
	"LangGraph enables stateful graph-based orchestration for " +
	"multi-agent workflows, while CrewAI focuses on role-based " +
	"autonomous agents with task delegation.\n\n" +
	"Key Differences:\n" +
	"- LangGraph: Graph execution, state management, deterministic flows\n" +
	"- CrewAI: Role-based agents, collaboration, autonomy\n\n" +
	"When to Use:\n" +
	"- Use LangGraph for structured pipelines and control\n" +
	"- Use CrewAI for autonomous multi-agent collaboration\n"
