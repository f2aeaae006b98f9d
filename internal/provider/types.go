// Package provider defines the canonical conversation model and the
// per-provider adapters that translate it to and from each LLM API,
// including tool schema translation and tool-call extraction.
package provider

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Role constants for canonical messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block is one element of a message's content. Type selects which fields
// are meaningful: "text" (Text), "tool_use" (ID, Name, Input) or
// "tool_result" (ToolUseID, Content, IsError).
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Message is a canonical conversation message. Within a request the
// message list is append-only.
type Message struct {
	Role   string  `json:"role"`
	Blocks []Block `json:"content"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: "text", Text: text}}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	out := ""
	for _, b := range m.Blocks {
		if b.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// Tool describes one callable tool in provider-neutral form.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolChoice constrains which tool the model must call.
type ToolChoice struct {
	Mode string // "auto" | "tool"
	Name string // required when Mode == "tool"
}

// Request is one provider turn.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	ToolChoice  *ToolChoice
	Temperature *float64
	MaxTokens   int
}

// Reply is the provider's assistant message in canonical block form.
type Reply struct {
	Message    Message
	StopReason string
}

// HasToolCalls reports whether the reply contains any tool_use block.
func (r *Reply) HasToolCalls() bool {
	for _, b := range r.Message.Blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// ToolCall is one canonical tool invocation extracted from a reply.
// Label is the name exactly as the provider emitted it; WireName is the
// rehydrated registry name, empty when the label did not resolve.
type ToolCall struct {
	ID       string
	Label    string
	WireName string
	Args     json.RawMessage
}

// Resolver rehydrates a provider-emitted tool label into a registered wire
// name, handling flat, dotted and prefixed namespace conventions.
type Resolver interface {
	ResolveLabel(label string) (string, bool)
}

// Adapter is one LLM provider integration. Implementations translate
// canonical requests into the provider's API (tool schemas and tool-result
// messages included) and provider responses back into canonical replies.
type Adapter interface {
	Name() string
	CreateMessage(ctx context.Context, req Request) (*Reply, error)
}

// ExtractToolCalls returns the reply's tool invocations in emission order,
// rehydrating each label through resolver. Labels that do not resolve keep
// an empty WireName; callers turn those into synthetic error results
// rather than failing the round. Well-known names (reserved) bypass the
// resolver and keep their label as wire name.
func ExtractToolCalls(reply *Reply, resolver Resolver, reserved ...string) []ToolCall {
	isReserved := func(name string) bool {
		for _, r := range reserved {
			if name == r {
				return true
			}
		}
		return false
	}

	var calls []ToolCall
	for _, b := range reply.Message.Blocks {
		if b.Type != "tool_use" {
			continue
		}
		call := ToolCall{ID: b.ID, Label: b.Name, Args: b.Input}
		if isReserved(b.Name) {
			call.WireName = b.Name
		} else if wire, ok := resolver.ResolveLabel(b.Name); ok {
			call.WireName = wire
		}
		calls = append(calls, call)
	}
	return calls
}

// ToolResultText is one executed call's outcome, paired to its call by id.
type ToolResultText struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// FormatToolResults builds the canonical message carrying tool outputs.
// Each adapter encodes it into the provider's native representation at
// request time (role-"tool" messages, tool_result blocks, or function
// responses).
func FormatToolResults(results []ToolResultText) Message {
	msg := Message{Role: RoleUser}
	for _, r := range results {
		msg.Blocks = append(msg.Blocks, Block{
			Type:      "tool_result",
			ToolUseID: r.ToolUseID,
			Content:   r.Content,
			IsError:   r.IsError,
		})
	}
	return msg
}

// callWithRetry runs fn with bounded retries and a linearly growing delay,
// the way transient provider failures are handled throughout.
func callWithRetry(ctx context.Context, name string, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < maxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[Provider] %s retry %d/%d after %v, error: %v", name, attempt+1, maxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// schemaToMap decodes a JSON Schema into a generic map, falling back to an
// empty object schema on error.
func schemaToMap(schema json.RawMessage) map[string]any {
	var m map[string]any
	if len(schema) == 0 || json.Unmarshal(schema, &m) != nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return m
}
