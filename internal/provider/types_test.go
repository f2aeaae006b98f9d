package provider

import (
	"encoding/json"
	"testing"
)

// mapResolver resolves labels through a fixed table.
type mapResolver map[string]string

func (m mapResolver) ResolveLabel(label string) (string, bool) {
	wire, ok := m[label]
	return wire, ok
}

func toolUseReply(names ...string) *Reply {
	reply := &Reply{Message: Message{Role: RoleAssistant}}
	for i, name := range names {
		reply.Message.Blocks = append(reply.Message.Blocks, Block{
			Type:  "tool_use",
			ID:    "call-" + string(rune('a'+i)),
			Name:  name,
			Input: json.RawMessage(`{"q": 1}`),
		})
	}
	return reply
}

func TestExtractToolCalls_EmissionOrder(t *testing.T) {
	resolver := mapResolver{
		"srv-one": "srv-one",
		"srv.two": "srv-two",
	}
	calls := ExtractToolCalls(toolUseReply("srv-one", "srv.two"), resolver)
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].WireName != "srv-one" || calls[1].WireName != "srv-two" {
		t.Errorf("wire names = %q, %q", calls[0].WireName, calls[1].WireName)
	}
	if calls[0].Label != "srv-one" || calls[1].Label != "srv.two" {
		t.Errorf("labels = %q, %q", calls[0].Label, calls[1].Label)
	}
}

func TestExtractToolCalls_UnresolvedKeepsEmptyWireName(t *testing.T) {
	calls := ExtractToolCalls(toolUseReply("ghost-tool"), mapResolver{})
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].WireName != "" {
		t.Errorf("WireName = %q, want empty", calls[0].WireName)
	}
	if calls[0].Label != "ghost-tool" {
		t.Errorf("Label = %q", calls[0].Label)
	}
}

func TestExtractToolCalls_ReservedBypassesResolver(t *testing.T) {
	calls := ExtractToolCalls(toolUseReply("response_formatter"), mapResolver{}, "response_formatter")
	if len(calls) != 1 || calls[0].WireName != "response_formatter" {
		t.Errorf("reserved name not passed through: %+v", calls)
	}
}

func TestExtractToolCalls_IgnoresTextBlocks(t *testing.T) {
	reply := &Reply{Message: TextMessage(RoleAssistant, "no tools here")}
	if calls := ExtractToolCalls(reply, mapResolver{}); len(calls) != 0 {
		t.Errorf("calls = %+v, want none", calls)
	}
}

func TestFormatToolResults_Pairing(t *testing.T) {
	msg := FormatToolResults([]ToolResultText{
		{ToolUseID: "call-a", Content: "ok"},
		{ToolUseID: "call-b", Content: "Error: boom", IsError: true},
	})
	if msg.Role != RoleUser {
		t.Errorf("Role = %q", msg.Role)
	}
	if len(msg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(msg.Blocks))
	}
	if msg.Blocks[0].ToolUseID != "call-a" || msg.Blocks[0].IsError {
		t.Errorf("block 0 = %+v", msg.Blocks[0])
	}
	if msg.Blocks[1].ToolUseID != "call-b" || !msg.Blocks[1].IsError {
		t.Errorf("block 1 = %+v", msg.Blocks[1])
	}
}

func TestMessageText_JoinsTextBlocks(t *testing.T) {
	msg := Message{Role: RoleAssistant, Blocks: []Block{
		{Type: "text", Text: "one"},
		{Type: "tool_use", ID: "x", Name: "t"},
		{Type: "text", Text: "two"},
	}}
	if got := msg.Text(); got != "one\ntwo" {
		t.Errorf("Text() = %q", got)
	}
}

func TestHasToolCalls(t *testing.T) {
	if (&Reply{Message: TextMessage(RoleAssistant, "x")}).HasToolCalls() {
		t.Error("text-only reply reports tool calls")
	}
	if !toolUseReply("a").HasToolCalls() {
		t.Error("tool_use reply reports none")
	}
}

func TestSchemaToMap_Fallback(t *testing.T) {
	m := schemaToMap(nil)
	if m["type"] != "object" {
		t.Errorf("fallback = %v", m)
	}
	m = schemaToMap(json.RawMessage(`{"type": "object", "required": ["q"]}`))
	if _, ok := m["required"]; !ok {
		t.Errorf("schema fields lost: %v", m)
	}
}
