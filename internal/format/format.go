package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/seqthink/seqthink/internal/artifact"
	"github.com/seqthink/seqthink/internal/provider"
)

// Error reports a formatter output that failed validation. The loop
// retries on this kind with backoff before surfacing it.
type Error struct {
	Cause string
}

func (e *Error) Error() string {
	return "format: " + e.Cause
}

func errorf(formatStr string, args ...any) *Error {
	return &Error{Cause: fmt.Sprintf(formatStr, args...)}
}

// Extract finds the provider's response_formatter invocation in reply,
// parses its argument object and validates the shape. Some providers
// deliver the arguments as a JSON-encoded string instead of a structured
// object; both forms are accepted.
func Extract(reply *provider.Reply) (*artifact.StoreFormat, error) {
	for _, b := range reply.Message.Blocks {
		if b.Type != "tool_use" || b.Name != ToolName {
			continue
		}
		raw, err := decodeArgs(b.Input)
		if err != nil {
			return nil, err
		}
		return ValidateShape(raw)
	}
	return nil, errorf("no %s invocation in reply", ToolName)
}

// decodeArgs unwraps string-encoded argument objects.
func decodeArgs(input json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" {
		return nil, errorf("empty %s arguments", ToolName)
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, errorf("arguments are a malformed JSON string: %v", err)
		}
		trimmed = strings.TrimSpace(inner)
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errorf("arguments must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

// ValidateShape enforces the StoreFormat contract on a raw formatter
// argument object and normalizes it: conversation exists, is a non-empty
// list; every segment has a valid type; text segments have non-empty
// content; artifact segments carry a well-formed inline artifact, which is
// assigned a fresh id and moved into the artifact list.
func ValidateShape(raw json.RawMessage) (*artifact.StoreFormat, error) {
	// Shape probe first so the common failure, conversation as a bare
	// string, gets a pointed message.
	var probe struct {
		Conversation json.RawMessage `json:"conversation"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errorf("arguments are not a JSON object: %v", err)
	}
	conv := strings.TrimSpace(string(probe.Conversation))
	switch {
	case conv == "" || conv == "null":
		return nil, errorf("conversation is missing")
	case conv[0] == '"':
		return nil, errorf("conversation must be a list of segments, not a string")
	case conv[0] != '[':
		return nil, errorf("conversation must be a list of segments")
	}

	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errorf("decode arguments: %v", err)
	}
	if len(input.Conversation) == 0 {
		return nil, errorf("conversation is empty")
	}

	store := &artifact.StoreFormat{Thinking: input.Thinking}
	for i, seg := range input.Conversation {
		switch seg.Type {
		case "text":
			if strings.TrimSpace(seg.Content) == "" {
				return nil, errorf("conversation[%d]: text segment has empty content", i)
			}
			store.Conversation = append(store.Conversation, artifact.Segment{
				Type:    "text",
				Content: seg.Content,
			})
		case "artifact":
			if seg.Artifact == nil {
				return nil, errorf("conversation[%d]: artifact segment has no artifact object", i)
			}
			if seg.Artifact.Content == "" {
				return nil, errorf("conversation[%d]: inline artifact has empty content", i)
			}
			a := artifact.Artifact{
				ID:       artifact.NewID(),
				Kind:     artifact.NormalizeKind(seg.Artifact.Type),
				Title:    seg.Artifact.Title,
				Content:  seg.Artifact.Content,
				Language: seg.Artifact.Language,
			}
			summary := seg.Summary
			if summary == "" {
				summary = a.Title
			}
			store.Artifacts = append(store.Artifacts, a)
			store.Conversation = append(store.Conversation, artifact.Segment{
				Type:       "artifact",
				ArtifactID: a.ID,
				Summary:    summary,
			})
		default:
			return nil, errorf("conversation[%d]: unknown segment type %q", i, seg.Type)
		}
	}
	return store, nil
}

func validateAgainstSchema(raw json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return errorf("arguments are not valid JSON: %v", err)
	}
	if err := compiled.Validate(inst); err != nil {
		return errorf("schema validation: %v", err)
	}
	return nil
}
