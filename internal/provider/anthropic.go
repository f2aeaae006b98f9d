package provider

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicMaxRetries       = 2
	anthropicDefaultMaxTokens = 4096
)

// Anthropic implements Adapter over the Messages API.
type Anthropic struct {
	client sdk.Client
}

// NewAnthropic creates an adapter for the given API key.
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	return &Anthropic{client: sdk.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (a *Anthropic) Name() string { return "anthropic" }

// CreateMessage sends one turn and translates the response into a
// canonical reply.
func (a *Anthropic) CreateMessage(ctx context.Context, req Request) (*Reply, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if tools, err := toAnthropicTools(req.Tools); err != nil {
		return nil, err
	} else if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.ToolChoice != nil && req.ToolChoice.Mode == "tool" {
		params.ToolChoice = sdk.ToolChoiceParamOfTool(req.ToolChoice.Name)
	}

	var msg *sdk.Message
	err := callWithRetry(ctx, "anthropic", anthropicMaxRetries, func() error {
		var err error
		msg, err = a.client.Messages.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return decodeAnthropicReply(msg), nil
}

// toAnthropicTools translates tool descriptors into Anthropic tool params.
// The raw schema map rides through ExtraFields so required-field sets and
// property names are preserved untouched.
func toAnthropicTools(tools []Tool) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{ExtraFields: schemaToMap(t.InputSchema)}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool == nil {
			return nil, fmt.Errorf("anthropic: tool %q: invalid definition", t.Name)
		}
		u.OfTool.Description = sdk.String(t.Description)
		out = append(out, u)
	}
	return out, nil
}

// encodeAnthropicMessages maps canonical messages onto Anthropic content
// blocks. tool_result blocks stay inside a user message, paired by
// tool_use_id.
func encodeAnthropicMessages(messages []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []sdk.ContentBlockParamUnion
		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(b.Text))
				}
			case "tool_use":
				var input map[string]any
				if err := json.Unmarshal(b.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ID, input, b.Name))
			case "tool_result":
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func decodeAnthropicReply(msg *sdk.Message) *Reply {
	reply := &Reply{
		Message:    Message{Role: RoleAssistant},
		StopReason: string(msg.StopReason),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				reply.Message.Blocks = append(reply.Message.Blocks, Block{
					Type: "text",
					Text: block.Text,
				})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := json.RawMessage(tu.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			reply.Message.Blocks = append(reply.Message.Blocks, Block{
				Type:  "tool_use",
				ID:    tu.ID,
				Name:  tu.Name,
				Input: args,
			})
		}
	}
	return reply
}
