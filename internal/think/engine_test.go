package think

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/seqthink/seqthink/internal/format"
	"github.com/seqthink/seqthink/internal/mcp"
	"github.com/seqthink/seqthink/internal/provider"
)

// ── Test doubles ───────────────────────────────────────────────────────────

type fakeBroker struct {
	tools  []mcp.ToolDescriptor
	calls  []string
	result func(wire string, args map[string]any) (*mcp.ToolResult, error)
}

func (f *fakeBroker) AvailableTools(mcp.Filter) []mcp.ToolDescriptor { return f.tools }

func (f *fakeBroker) ResolveLabel(label string) (string, bool) {
	for _, td := range f.tools {
		if td.WireName == label {
			return label, true
		}
	}
	return "", false
}

func (f *fakeBroker) CallTool(ctx context.Context, wire string, args map[string]any, cc mcp.CallContext) (*mcp.ToolResult, error) {
	f.calls = append(f.calls, wire)
	if f.result != nil {
		return f.result(wire, args)
	}
	return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}, nil
}

// scriptAdapter returns canned replies in order and records every request.
type scriptAdapter struct {
	replies []*provider.Reply
	reqs    []provider.Request
	err     error
}

func (s *scriptAdapter) Name() string { return "script" }

func (s *scriptAdapter) CreateMessage(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("script exhausted after %d requests", len(s.reqs))
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type statusRecorder struct{ msgs []string }

func (r *statusRecorder) Status(m string) bool { r.msgs = append(r.msgs, m); return true }
func (r *statusRecorder) Statusf(f string, a ...any) bool {
	return r.Status(fmt.Sprintf(f, a...))
}

func (r *statusRecorder) contains(substr string) bool {
	for _, m := range r.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// ── Reply builders ─────────────────────────────────────────────────────────

const validFormatterArgs = `{"conversation": [{"type": "text", "content": "done"}]}`

func formatterReply(args string) *provider.Reply {
	return &provider.Reply{Message: provider.Message{
		Role: provider.RoleAssistant,
		Blocks: []provider.Block{
			{Type: "tool_use", ID: "fmt-1", Name: format.ToolName, Input: json.RawMessage(args)},
		},
	}}
}

func toolReply(id, label string) *provider.Reply {
	return &provider.Reply{Message: provider.Message{
		Role: provider.RoleAssistant,
		Blocks: []provider.Block{
			{Type: "tool_use", ID: id, Name: label, Input: json.RawMessage(`{"q": "x"}`)},
		},
	}}
}

func searchBroker() *fakeBroker {
	return &fakeBroker{tools: []mcp.ToolDescriptor{{
		Server:      "pubtator",
		Name:        "search_pubmed",
		WireName:    "pubtator-search_pubmed",
		Description: "search",
		InputSchema: []byte(`{"type": "object"}`),
	}}}
}

// ── Tests ──────────────────────────────────────────────────────────────────

func TestRun_FormatterOnFirstRound(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{formatterReply(validFormatterArgs)}}
	broker := searchBroker()
	engine := New(adapter, broker, Options{})

	store, err := engine.Run(context.Background(), Request{Message: "hi"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.Conversation) != 1 || store.Conversation[0].Content != "done" {
		t.Errorf("store = %+v", store)
	}
	if len(broker.calls) != 0 {
		t.Errorf("tools called before formatting: %v", broker.calls)
	}
	if len(adapter.reqs) != 1 {
		t.Errorf("provider calls = %d, want 1", len(adapter.reqs))
	}
}

func TestRun_ToolRoundThenFormat(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	broker := searchBroker()
	engine := New(adapter, broker, Options{})
	status := &statusRecorder{}

	store, err := engine.Run(context.Background(), Request{Message: "find BRCA1 papers"}, status)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store == nil {
		t.Fatal("nil store")
	}
	if len(broker.calls) != 1 || broker.calls[0] != "pubtator-search_pubmed" {
		t.Errorf("broker calls = %v", broker.calls)
	}
	if !status.contains("calling pubtator-search_pubmed") {
		t.Errorf("missing tool status, got %v", status.msgs)
	}

	// Second request carries the assistant tool call and its result.
	if len(adapter.reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(adapter.reqs))
	}
	msgs := adapter.reqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Blocks[0].Type != "tool_result" || last.Blocks[0].ToolUseID != "call-1" {
		t.Errorf("last message = %+v", last)
	}
	if last.Blocks[0].Content != "ok" {
		t.Errorf("result content = %q", last.Blocks[0].Content)
	}
}

func TestRun_FormatterForcedOnFinalRound(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, searchBroker(), Options{MaxRounds: 2})

	if _, err := engine.Run(context.Background(), Request{Message: "q"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := adapter.reqs[0]
	if first.ToolChoice != nil {
		t.Errorf("round 1 tool choice = %+v, want auto", first.ToolChoice)
	}
	final := adapter.reqs[1]
	if final.ToolChoice == nil || final.ToolChoice.Name != format.ToolName {
		t.Errorf("final round tool choice = %+v", final.ToolChoice)
	}
}

func TestRun_ProviderCallsBoundedByMaxRounds(t *testing.T) {
	// Model keeps calling tools every round; the loop must stop at
	// MaxRounds provider calls with the last one forced to format.
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		toolReply("call-2", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, searchBroker(), Options{MaxRounds: 3})

	if _, err := engine.Run(context.Background(), Request{Message: "q"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(adapter.reqs) != 3 {
		t.Errorf("provider calls = %d, want 3", len(adapter.reqs))
	}
}

func TestRun_ToolFailureBecomesErrorResult(t *testing.T) {
	broker := searchBroker()
	broker.result = func(string, map[string]any) (*mcp.ToolResult, error) {
		return nil, &mcp.ToolTimeoutError{Server: "pubtator", Tool: "search_pubmed"}
	}
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, broker, Options{})

	store, err := engine.Run(context.Background(), Request{Message: "q"}, nil)
	if err != nil {
		t.Fatalf("tool failure aborted the run: %v", err)
	}
	if store == nil {
		t.Fatal("nil store")
	}

	msgs := adapter.reqs[1].Messages
	last := msgs[len(msgs)-1]
	if !last.Blocks[0].IsError {
		t.Errorf("result not marked as error: %+v", last.Blocks[0])
	}
	if !strings.Contains(last.Blocks[0].Content, "Error") {
		t.Errorf("result content = %q", last.Blocks[0].Content)
	}
}

func TestRun_UnknownToolLabel(t *testing.T) {
	broker := searchBroker()
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "ghost-tool"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, broker, Options{})

	if _, err := engine.Run(context.Background(), Request{Message: "q"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(broker.calls) != 0 {
		t.Errorf("unknown label reached the broker: %v", broker.calls)
	}
	last := adapter.reqs[1].Messages
	block := last[len(last)-1].Blocks[0]
	if !block.IsError || !strings.Contains(block.Content, "ghost-tool") {
		t.Errorf("synthetic result = %+v", block)
	}
}

func TestRun_SideChannelsAttached(t *testing.T) {
	broker := searchBroker()
	broker.result = func(string, map[string]any) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{
			Content:      []mcp.ContentBlock{{Type: "text", Text: "3 papers"}},
			Bibliography: []map[string]any{{"pmid": "1"}, {"pmid": "2"}},
			Artifacts:    []map[string]any{{"type": "knowledge-graph", "content": `{"nodes": [{"id": "BRCA1"}]}`}},
		}, nil
	}
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, broker, Options{})

	store, err := engine.Run(context.Background(), Request{Message: "q"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want bibliography + graph", len(store.Artifacts))
	}
	if store.Artifacts[0].Kind != "bibliography" {
		t.Errorf("artifact 0 = %+v", store.Artifacts[0])
	}
	if store.Artifacts[1].Kind != "knowledge-graph" {
		t.Errorf("artifact 1 = %+v", store.Artifacts[1])
	}
	// Each attached artifact gets a referencing segment after the answer.
	if len(store.Conversation) != 3 {
		t.Errorf("segments = %d, want 3", len(store.Conversation))
	}
}

func TestRun_TextOnlyReplyStillFormats(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{
		{Message: provider.TextMessage(provider.RoleAssistant, "the answer is 42")},
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, searchBroker(), Options{})

	if _, err := engine.Run(context.Background(), Request{Message: "q"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(adapter.reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(adapter.reqs))
	}
	second := adapter.reqs[1]
	if second.ToolChoice == nil || second.ToolChoice.Name != format.ToolName {
		t.Errorf("formatting turn not forced: %+v", second.ToolChoice)
	}
}

func TestRun_FormatRetrySucceeds(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{
		formatterReply(`{"conversation": "just a string"}`),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, searchBroker(), Options{MaxFormatRetries: 2})
	status := &statusRecorder{}

	store, err := engine.Run(context.Background(), Request{Message: "q"}, status)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store == nil {
		t.Fatal("nil store")
	}
	if !status.contains("Retrying response formatting") {
		t.Errorf("missing retry status: %v", status.msgs)
	}

	// The retry request closes out the rejected call and pins down the
	// correction.
	retryReq := adapter.reqs[1]
	feedback := retryReq.Messages[len(retryReq.Messages)-1]
	if feedback.Blocks[0].Type != "tool_result" || !feedback.Blocks[0].IsError {
		t.Errorf("feedback = %+v", feedback.Blocks[0])
	}
	// Last attempt trades creativity for shape compliance.
	if retryReq.Temperature == nil || *retryReq.Temperature != finalAttemptTemperature {
		t.Errorf("final attempt temperature = %v", retryReq.Temperature)
	}
}

func TestRun_FormatRetriesExhausted(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{
		formatterReply(`{"conversation": "nope"}`),
	}}
	engine := New(adapter, searchBroker(), Options{MaxFormatRetries: 1})

	_, err := engine.Run(context.Background(), Request{Message: "q"}, nil)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindFormat {
		t.Fatalf("err = %v, want Format error", err)
	}
}

func TestRun_ProviderFailure(t *testing.T) {
	adapter := &scriptAdapter{err: fmt.Errorf("upstream 500")}
	engine := New(adapter, searchBroker(), Options{})

	_, err := engine.Run(context.Background(), Request{Message: "q"}, nil)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindTransport {
		t.Fatalf("err = %v, want Transport error", err)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := &scriptAdapter{replies: []*provider.Reply{formatterReply(validFormatterArgs)}}
	engine := New(adapter, searchBroker(), Options{})

	_, err := engine.Run(ctx, Request{Message: "q"}, nil)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindCancelled {
		t.Fatalf("err = %v, want Cancelled error", err)
	}
	if len(adapter.reqs) != 0 {
		t.Errorf("provider called after cancellation: %d", len(adapter.reqs))
	}
}

func TestRun_CancelledMidRun(t *testing.T) {
	// Client disconnects while the second round's tool call is in flight:
	// no further provider calls, no partial result.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := searchBroker()
	calls := 0
	broker.result = func(string, map[string]any) (*mcp.ToolResult, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}, nil
	}
	adapter := &scriptAdapter{replies: []*provider.Reply{
		toolReply("call-1", "pubtator-search_pubmed"),
		toolReply("call-2", "pubtator-search_pubmed"),
		formatterReply(validFormatterArgs),
	}}
	engine := New(adapter, broker, Options{})

	store, err := engine.Run(ctx, Request{Message: "q"}, nil)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindCancelled {
		t.Fatalf("err = %v, want Cancelled error", err)
	}
	if store != nil {
		t.Errorf("partial store returned after cancellation: %+v", store)
	}
	if len(adapter.reqs) != 2 {
		t.Errorf("provider calls = %d, want 2 (none after cancellation)", len(adapter.reqs))
	}
}

func TestRun_NoToolsAvailable(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{formatterReply(validFormatterArgs)}}
	broker := &fakeBroker{}
	engine := New(adapter, broker, Options{})

	if _, err := engine.Run(context.Background(), Request{Message: "q"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The formatter is the only tool offered.
	tools := adapter.reqs[0].Tools
	if len(tools) != 1 || tools[0].Name != format.ToolName {
		t.Errorf("tools = %+v", tools)
	}
}

func TestRun_HistoryPrecedesMessage(t *testing.T) {
	adapter := &scriptAdapter{replies: []*provider.Reply{formatterReply(validFormatterArgs)}}
	engine := New(adapter, searchBroker(), Options{})

	history := []provider.Message{
		provider.TextMessage(provider.RoleUser, "earlier question"),
		provider.TextMessage(provider.RoleAssistant, "earlier answer"),
	}
	if _, err := engine.Run(context.Background(), Request{Message: "follow-up", History: history}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := adapter.reqs[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[2].Text() != "follow-up" {
		t.Errorf("last message = %q", msgs[2].Text())
	}
}
