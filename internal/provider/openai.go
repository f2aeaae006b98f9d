package provider

import (
	"context"
	"encoding/json"
	"fmt"

	openailib "github.com/sashabaranov/go-openai"
)

const openaiMaxRetries = 2

// OpenAI implements Adapter over the OpenAI-compatible chat completions
// protocol. Any endpoint speaking that API (OpenAI, litellm, vLLM, Ollama)
// works by setting a base URL.
type OpenAI struct {
	client *openailib.Client
}

// NewOpenAI creates an adapter. baseURL may be empty for the default
// endpoint.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg := openailib.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openailib.NewClientWithConfig(cfg)}, nil
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string { return "openai" }

// CreateMessage sends one turn and translates the response into a
// canonical reply.
func (o *OpenAI) CreateMessage(ctx context.Context, req Request) (*Reply, error) {
	creq := openailib.ChatCompletionRequest{
		Model:    req.Model,
		Messages: encodeOpenAIMessages(req.System, req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}
	if req.ToolChoice != nil && req.ToolChoice.Mode == "tool" {
		creq.ToolChoice = openailib.ToolChoice{
			Type:     openailib.ToolTypeFunction,
			Function: openailib.ToolFunction{Name: req.ToolChoice.Name},
		}
	}

	var resp openailib.ChatCompletionResponse
	err := callWithRetry(ctx, "openai", openaiMaxRetries, func() error {
		var err error
		resp, err = o.client.CreateChatCompletion(ctx, creq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	return decodeOpenAIReply(resp.Choices[0]), nil
}

// toOpenAITools translates tool descriptors into OpenAI function schemas.
// Required-field sets and property names ride through in the raw schema map.
func toOpenAITools(tools []Tool) []openailib.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openailib.Tool, len(tools))
	for i, t := range tools {
		out[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
		}
	}
	return out
}

// encodeOpenAIMessages maps canonical messages onto the chat-completions
// shape: tool_use blocks become assistant tool_calls, tool_result blocks
// become individual role-"tool" messages paired by ToolCallID.
func encodeOpenAIMessages(system string, messages []Message) []openailib.ChatCompletionMessage {
	var out []openailib.ChatCompletionMessage
	if system != "" {
		out = append(out, openailib.ChatCompletionMessage{
			Role:    openailib.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		var text string
		var toolCalls []openailib.ToolCall
		var toolResults []openailib.ChatCompletionMessage

		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				if text != "" {
					text += "\n"
				}
				text += b.Text
			case "tool_use":
				toolCalls = append(toolCalls, openailib.ToolCall{
					ID:   b.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case "tool_result":
				toolResults = append(toolResults, openailib.ChatCompletionMessage{
					Role:       openailib.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		// Tool messages must directly follow the assistant message that
		// carries their tool_calls; any text in the same canonical message
		// comes after them.
		out = append(out, toolResults...)
		if text != "" || len(toolCalls) > 0 {
			role := openailib.ChatMessageRoleUser
			if msg.Role == RoleAssistant {
				role = openailib.ChatMessageRoleAssistant
			}
			out = append(out, openailib.ChatCompletionMessage{
				Role:      role,
				Content:   text,
				ToolCalls: toolCalls,
			})
		}
	}
	return out
}

func decodeOpenAIReply(choice openailib.ChatCompletionChoice) *Reply {
	reply := &Reply{
		Message:    Message{Role: RoleAssistant},
		StopReason: string(choice.FinishReason),
	}
	if choice.Message.Content != "" {
		reply.Message.Blocks = append(reply.Message.Blocks, Block{
			Type: "text",
			Text: choice.Message.Content,
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		reply.Message.Blocks = append(reply.Message.Blocks, Block{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		})
	}
	return reply
}
