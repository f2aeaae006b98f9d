// Package prompt assembles the system prompt for a thinking run.
package prompt

import (
	"fmt"
	"strings"

	"github.com/seqthink/seqthink/internal/artifact"
)

// Mode selects the operating behaviour encoded into the system prompt.
const (
	ModeNormal = "normal"
	ModeGraph  = "graph"
)

// basePrompt is the layer that applies to every run: role, tool protocol
// and the formatter contract.
const basePrompt = `You are a research assistant that reasons in bounded steps.

## Tool protocol
- You may call the available tools to gather evidence before answering.
- Call tools only when they add information you do not already have.
- Tool failures are reported back to you as error results; work with what
  you have instead of retrying the same call.

## Final response
When your answer is complete, call the response_formatter tool exactly once.
Its conversation field is an ordered, non-empty array of segments:
- {"type": "text", "content": "..."} for prose
- {"type": "artifact", "artifact": {"type", "title", "content"}, "summary": "..."} for code, documents or diagrams
Never pass conversation as a plain string. Do not repeat artifact bodies in
text segments.`

// graphPrompt is appended in graph-building mode.
const graphPrompt = `## Graph building
You are building a knowledge graph for this conversation. Prefer tools that
create or extend graph nodes and edges. Every factual claim you add to the
graph must name its supporting evidence. Keep node identifiers stable
across calls.`

// Builder composes system prompts from the operating mode and the
// request's pinned artifacts.
type Builder struct {
	mode string
}

// NewBuilder returns a Builder for mode, defaulting to normal.
func NewBuilder(mode string) *Builder {
	if mode != ModeGraph {
		mode = ModeNormal
	}
	return &Builder{mode: mode}
}

// System assembles the system prompt: operating mode layer first, then the
// pinned artifacts verbatim under a labeled context section. Size control
// of pinned artifacts is the caller's responsibility.
func (b *Builder) System(pinned []artifact.Artifact) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if b.mode == ModeGraph {
		sb.WriteString("\n\n")
		sb.WriteString(graphPrompt)
	}

	if len(pinned) > 0 {
		sb.WriteString("\n\n## Pinned context\n")
		sb.WriteString("The caller pinned the following artifacts as context for this request:\n")
		for _, a := range pinned {
			sb.WriteString(fmt.Sprintf("\n### %s (%s)\n", a.Title, a.Kind))
			sb.WriteString(a.Content)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Mode returns the effective operating mode.
func (b *Builder) Mode() string { return b.mode }
