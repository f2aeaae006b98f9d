package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const geminiMaxRetries = 2

// Gemini implements Adapter over the Google Gen AI SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates an adapter for the given API key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Name returns the provider identifier.
func (g *Gemini) Name() string { return "gemini" }

// CreateMessage sends one turn and translates the response into a
// canonical reply. Gemini function calls carry no ids, so fresh ids are
// minted on extraction; result pairing uses the function name instead.
func (g *Gemini) CreateMessage(ctx context.Context, req Request) (*Reply, error) {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if tools := toGeminiTools(req.Tools); len(tools) > 0 {
		config.Tools = tools
	}
	if req.ToolChoice != nil && req.ToolChoice.Mode == "tool" {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ToolChoice.Name},
			},
		}
	}

	contents := encodeGeminiMessages(req.Messages)

	var resp *genai.GenerateContentResponse
	err := callWithRetry(ctx, "gemini", geminiMaxRetries, func() error {
		var err error
		resp, err = g.client.Models.GenerateContent(ctx, req.Model, contents, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return decodeGeminiReply(resp)
}

// toGeminiTools translates tool descriptors into Gemini function
// declarations. JSON Schema features Gemini does not model ($ref is
// resolved upstream) map onto the closest Schema fields.
func toGeminiTools(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(schemaToMap(t.InputSchema)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON Schema map into Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

// encodeGeminiMessages maps canonical messages onto Gemini contents.
// tool_use blocks become FunctionCall parts on the model role;
// tool_result blocks become FunctionResponse parts on the user role,
// named after the originating call.
func encodeGeminiMessages(messages []Message) []*genai.Content {
	callNames := toolUseNames(messages)

	var out []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				}
			case "tool_use":
				var args map[string]any
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.Name, Args: args},
				})
			case "tool_result":
				// "null" unmarshals into a nil map; wrap it like non-JSON
				// content so the error flag has somewhere to go.
				var response map[string]any
				if err := json.Unmarshal([]byte(b.Content), &response); err != nil || response == nil {
					response = map[string]any{"result": b.Content}
				}
				if b.IsError {
					response["error"] = true
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     callNames[b.ToolUseID],
						Response: response,
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

// toolUseNames maps tool_use ids to their emitted labels across the
// message list, for FunctionResponse naming.
func toolUseNames(messages []Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, b := range msg.Blocks {
			if b.Type == "tool_use" {
				names[b.ID] = b.Name
			}
		}
	}
	return names
}

func decodeGeminiReply(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response")
	}

	reply := &Reply{Message: Message{Role: RoleAssistant}}
	candidate := resp.Candidates[0]
	reply.StopReason = string(candidate.FinishReason)

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			reply.Message.Blocks = append(reply.Message.Blocks, Block{
				Type: "text",
				Text: part.Text,
			})
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = json.RawMessage("{}")
			}
			reply.Message.Blocks = append(reply.Message.Blocks, Block{
				Type:  "tool_use",
				ID:    "call-" + uuid.NewString(),
				Name:  part.FunctionCall.Name,
				Input: args,
			})
		}
	}
	return reply, nil
}
