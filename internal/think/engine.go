// Package think runs the bounded sequential thinking loop: provider turns
// interleaved with MCP tool execution, ending in a forced
// response_formatter call whose output becomes the reply.
package think

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/seqthink/seqthink/internal/artifact"
	"github.com/seqthink/seqthink/internal/config"
	"github.com/seqthink/seqthink/internal/format"
	"github.com/seqthink/seqthink/internal/mcp"
	"github.com/seqthink/seqthink/internal/prompt"
	"github.com/seqthink/seqthink/internal/provider"
	"github.com/seqthink/seqthink/internal/util"
)

const (
	defaultMaxRounds     = 5
	defaultFormatRetries = 3

	// Tool output beyond this many runes is truncated before it re-enters
	// the conversation.
	maxToolResultRunes = 20000

	maxArgsPreviewRunes = 160

	// Overrides for the last formatting attempt.
	finalAttemptTemperature = 0.2
	finalAttemptMaxTokens   = 4096
)

// ToolBroker is the tool surface the loop drives. *mcp.Manager implements
// it.
type ToolBroker interface {
	provider.Resolver
	AvailableTools(filter mcp.Filter) []mcp.ToolDescriptor
	CallTool(ctx context.Context, wireName string, args map[string]any, cc mcp.CallContext) (*mcp.ToolResult, error)
}

// StatusSink receives progress events during a run. *stream.Writer
// implements it.
type StatusSink interface {
	Status(message string) bool
	Statusf(format string, args ...any) bool
}

type nopSink struct{}

func (nopSink) Status(string) bool          { return true }
func (nopSink) Statusf(string, ...any) bool { return true }

// Request is one thinking run.
type Request struct {
	Message     string
	History     []provider.Message
	Pinned      []artifact.Artifact
	Filter      mcp.Filter
	Mode        string
	Model       string
	Temperature *float64
	MaxTokens   int
	CallContext mcp.CallContext
}

// Options bounds a run. Zero values take the defaults.
type Options struct {
	MaxRounds        int
	MaxFormatRetries int
	TurnTimeout      time.Duration
}

// Engine drives thinking runs against one provider adapter and one tool
// broker. It is stateless across runs and safe for concurrent use.
type Engine struct {
	adapter provider.Adapter
	broker  ToolBroker
	opts    Options
}

// New creates an Engine.
func New(adapter provider.Adapter, broker ToolBroker, opts Options) *Engine {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	if opts.MaxFormatRetries <= 0 {
		opts.MaxFormatRetries = defaultFormatRetries
	}
	return &Engine{adapter: adapter, broker: broker, opts: opts}
}

// Run executes the loop for one request and returns the finalized reply
// with all side-channel artifacts attached. Tool failures never abort the
// run; they are fed back to the model as error results. The returned error
// is always a *Error.
func (e *Engine) Run(ctx context.Context, req Request, status StatusSink) (*artifact.StoreFormat, error) {
	if status == nil {
		status = nopSink{}
	}

	builder := prompt.NewBuilder(req.Mode)

	descriptors := e.broker.AvailableTools(req.Filter)
	tools := make([]provider.Tool, 0, len(descriptors)+1)
	for _, td := range descriptors {
		tools = append(tools, provider.Tool{
			Name:        td.WireName,
			Description: td.Description,
			InputSchema: td.InputSchema,
		})
	}
	tools = append(tools, format.Tool())

	messages := make([]provider.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, provider.TextMessage(provider.RoleUser, req.Message))

	r := &run{
		e:         e,
		req:       req,
		status:    status,
		system:    builder.System(req.Pinned),
		tools:     tools,
		messages:  messages,
		collector: artifact.NewCollector(),
	}

	store, err := r.loop(ctx)
	if err != nil {
		return nil, err
	}
	r.collector.Attach(store)
	return store, nil
}

// run is the mutable state of one Run invocation.
type run struct {
	e         *Engine
	req       Request
	status    StatusSink
	system    string
	tools     []provider.Tool
	messages  []provider.Message
	collector *artifact.Collector
}

func (r *run) loop(ctx context.Context) (*artifact.StoreFormat, error) {
	maxRounds := r.e.opts.MaxRounds

	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, failure(KindCancelled, err)
		}

		preq := r.request()
		if round == maxRounds {
			// Last round: the model must produce the final answer now.
			preq.ToolChoice = &provider.ToolChoice{Mode: "tool", Name: format.ToolName}
			r.status.Status("Finalizing response")
		} else {
			r.status.Statusf("Thinking (round %d of %d)", round, maxRounds)
		}

		reply, err := r.turn(ctx, preq)
		if err != nil {
			return nil, err
		}

		calls := provider.ExtractToolCalls(reply, r.e.broker, format.ToolName)
		if config.DebugEnabled() {
			log.Printf("[Think] Round %d: %d tool call(s), stop=%s", round, len(calls), reply.StopReason)
		}

		if hasFormatterCall(calls) {
			store, ferr := format.Extract(reply)
			if ferr == nil {
				return store, nil
			}
			log.Printf("[Think] Formatter output rejected in round %d: %v", round, ferr)
			r.messages = append(r.messages, reply.Message, retryFeedback(calls, ferr))
			return r.reformat(ctx, 1, ferr)
		}

		if len(calls) == 0 {
			// Text-only reply; the answer still needs formatting.
			r.messages = append(r.messages, reply.Message)
			break
		}

		r.messages = append(r.messages, reply.Message)
		results, err := r.executeCalls(ctx, calls)
		if err != nil {
			return nil, err
		}
		r.messages = append(r.messages, provider.FormatToolResults(results))
	}

	return r.reformat(ctx, 0, nil)
}

// reformat forces response_formatter until the output validates, with
// backoff between attempts. attemptsUsed counts rejections that already
// happened inside the loop.
func (r *run) reformat(ctx context.Context, attemptsUsed int, lastErr error) (*artifact.StoreFormat, error) {
	maxAttempts := r.e.opts.MaxFormatRetries

	for attempt := attemptsUsed + 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			r.status.Statusf("Retrying response formatting (attempt %d of %d)", attempt, maxAttempts)
			wait := time.Duration(1<<(attempt-2)) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, failure(KindCancelled, ctx.Err())
			}
		}

		preq := r.request()
		preq.ToolChoice = &provider.ToolChoice{Mode: "tool", Name: format.ToolName}
		if attempt == maxAttempts {
			// Last chance: trade creativity for shape compliance.
			t := finalAttemptTemperature
			preq.Temperature = &t
			if preq.MaxTokens < finalAttemptMaxTokens {
				preq.MaxTokens = finalAttemptMaxTokens
			}
		}

		reply, err := r.turn(ctx, preq)
		if err != nil {
			return nil, err
		}

		store, ferr := format.Extract(reply)
		if ferr == nil {
			return store, nil
		}
		lastErr = ferr
		log.Printf("[Think] Formatter output rejected on attempt %d: %v", attempt, ferr)
		calls := provider.ExtractToolCalls(reply, r.e.broker, format.ToolName)
		r.messages = append(r.messages, reply.Message, retryFeedback(calls, ferr))
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no formatting attempts configured")
	}
	return nil, failure(KindFormat, lastErr)
}

// request snapshots the current conversation into a provider request.
func (r *run) request() provider.Request {
	return provider.Request{
		Model:       r.req.Model,
		System:      r.system,
		Messages:    r.messages,
		Tools:       r.tools,
		Temperature: r.req.Temperature,
		MaxTokens:   r.req.MaxTokens,
	}
}

// turn performs one provider call bounded by the configured turn timeout.
func (r *run) turn(ctx context.Context, preq provider.Request) (*provider.Reply, error) {
	tctx := ctx
	if r.e.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.e.opts.TurnTimeout)
		defer cancel()
	}

	reply, err := r.e.adapter.CreateMessage(tctx, preq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure(KindCancelled, ctx.Err())
		}
		return nil, failure(KindTransport, fmt.Errorf("%s: %w", r.e.adapter.Name(), err))
	}
	return reply, nil
}

// executeCalls runs the round's tool calls sequentially in emission order.
// Cancellation is honored between calls, never mid-call.
func (r *run) executeCalls(ctx context.Context, calls []provider.ToolCall) ([]provider.ToolResultText, error) {
	results := make([]provider.ToolResultText, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, failure(KindCancelled, err)
		}
		results = append(results, r.executeOne(ctx, call))
	}
	return results, nil
}

// executeOne runs a single tool call. Every failure mode becomes an error
// result the model can react to.
func (r *run) executeOne(ctx context.Context, call provider.ToolCall) provider.ToolResultText {
	if call.WireName == "" {
		log.Printf("[Think] Unresolvable tool label %q", call.Label)
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Label))
	}

	var args map[string]any
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return errorResult(call.ID, fmt.Sprintf("malformed arguments for %s: %v", call.WireName, err))
		}
	}

	if preview := argsPreview(call.Args); preview != "" {
		r.status.Statusf("calling %s with %s", call.WireName, preview)
	} else {
		r.status.Statusf("calling %s", call.WireName)
	}

	result, err := r.e.broker.CallTool(ctx, call.WireName, args, r.req.CallContext)
	if err != nil {
		log.Printf("[Think] Tool %s failed: %v", call.WireName, err)
		return errorResult(call.ID, err.Error())
	}

	if len(result.Bibliography) > 0 {
		r.collector.AddBibliography(result.Bibliography)
	}
	for _, a := range result.Artifacts {
		r.collector.AddRaw(a)
	}
	for _, b := range result.BinaryOutputs {
		r.collector.AddBinary(b.Data, b.Type, b.Metadata)
	}

	text := result.Text()
	if text == "" {
		text = "(no output)"
	}
	return provider.ToolResultText{
		ToolUseID: call.ID,
		Content:   util.TruncateRunes(text, maxToolResultRunes),
		IsError:   result.IsError,
	}
}

func hasFormatterCall(calls []provider.ToolCall) bool {
	for _, c := range calls {
		if c.WireName == format.ToolName {
			return true
		}
	}
	return false
}

// retryFeedback closes out every pending tool call of a rejected reply
// with an error result so the conversation stays well-formed, then tells
// the model what to fix. Replies without tool calls get plain feedback.
func retryFeedback(calls []provider.ToolCall, ferr error) provider.Message {
	instruction := fmt.Sprintf(
		"Invalid %s arguments: %v. Call %s again; conversation must be a non-empty array of segment objects.",
		format.ToolName, ferr, format.ToolName)

	if len(calls) == 0 {
		return provider.TextMessage(provider.RoleUser, instruction)
	}

	results := make([]provider.ToolResultText, 0, len(calls))
	for _, c := range calls {
		content := instruction
		if c.WireName != format.ToolName {
			content = "not executed: a valid " + format.ToolName + " call is required first"
		}
		results = append(results, provider.ToolResultText{
			ToolUseID: c.ID,
			Content:   content,
			IsError:   true,
		})
	}
	msg := provider.FormatToolResults(results)
	msg.Blocks = append(msg.Blocks, provider.Block{Type: "text", Text: instruction})
	return msg
}

// argsPreview renders a short argument excerpt for status lines.
func argsPreview(args json.RawMessage) string {
	s := strings.TrimSpace(string(args))
	if s == "" || s == "{}" || s == "null" {
		return ""
	}
	return util.TruncateRunes(s, maxArgsPreviewRunes)
}

func errorResult(id, message string) provider.ToolResultText {
	return provider.ToolResultText{ToolUseID: id, Content: "Error: " + message, IsError: true}
}
