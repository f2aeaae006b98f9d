package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// handshakeTimeout bounds the spawn + initialize exchange.
const handshakeTimeout = 30 * time.Second

// ToolInfo captures the metadata of a single tool exposed by an MCP server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ContentBlock is one entry of a tool result's content list.
// Only text blocks are produced by the stdio transport.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BinaryOutput is a base64 payload emitted by a tool alongside its content.
type BinaryOutput struct {
	Data     string         `json:"data"`
	Type     string         `json:"type"` // media type, e.g. "image/png"
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolResult is the normalized result of one tools/call round trip.
// Bibliography, Artifacts and BinaryOutputs are side channels some servers
// emit next to the content list; see parseEnvelope.
type ToolResult struct {
	Content       []ContentBlock
	Bibliography  []map[string]any
	Artifacts     []map[string]any
	BinaryOutputs []BinaryOutput
	IsError       bool
}

// Text concatenates the text blocks of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// LogHandler receives structured log notifications from a server child
// process. Handlers run on their own goroutine and must not block requests.
type LogHandler func(server, method string, params json.RawMessage)

// Client wraps one mcp-go stdio session with one child process.
// It is safe for concurrent use; the SDK multiplexes in-flight calls by
// JSON-RPC id over a serialized stdin writer and a single stdout reader.
type Client struct {
	mu        sync.RWMutex
	cfg       ServerConfig
	inner     *sdk_client.Client
	tools     []ToolInfo // catalog cached at Connect; invalidated only by restart
	logSink   LogHandler
	transport error // first fatal transport error observed
}

// NewClient creates an unconnected Client for the given server config.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// OnLog registers the sink for the child's log notifications.
// Must be called before Connect; later calls replace the sink.
func (c *Client) OnLog(h LogHandler) {
	c.mu.Lock()
	c.logSink = h
	c.mu.Unlock()
}

// Connect spawns the child process, performs the MCP initialize handshake
// and fetches the tool catalog. Failures are reported as *StartupError.
func (c *Client) Connect(ctx context.Context) error {
	env := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		env = append(env, k+"="+v)
	}

	inner, err := sdk_client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	if err != nil {
		return &StartupError{Server: c.cfg.Name, Err: err}
	}

	// Unsolicited notifications/* never correlate to a request id; fan them
	// out to the log sink without blocking the reader goroutine.
	inner.OnNotification(func(n sdk_mcp.JSONRPCNotification) {
		c.mu.RLock()
		sink := c.logSink
		c.mu.RUnlock()
		if sink == nil {
			return
		}
		params, err := json.Marshal(n.Params)
		if err != nil {
			params = json.RawMessage("{}")
		}
		go sink(c.cfg.Name, n.Method, params)
	})

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, err = inner.Initialize(hctx, sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    "seqthink",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		_ = inner.Close()
		return &StartupError{Server: c.cfg.Name, Err: fmt.Errorf("initialize: %w", err)}
	}

	listed, err := inner.ListTools(hctx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		_ = inner.Close()
		return &StartupError{Server: c.cfg.Name, Err: fmt.Errorf("tools/list: %w", err)}
	}

	tools := make([]ToolInfo, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	c.mu.Lock()
	c.inner = inner
	c.tools = tools
	c.transport = nil
	c.mu.Unlock()
	return nil
}

// ListTools returns the tool catalog cached at Connect.
func (c *Client) ListTools() ([]ToolInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.inner == nil {
		return nil, ErrNotConnected
	}
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// CallTool invokes the named tool with the given arguments, bounded by
// timeout. Server-reported tool errors come back as a ToolResult with
// IsError set; timeouts as *ToolTimeoutError; stream death as
// *TransportError. A JSON-RPC error reply to this one call comes back as a
// plain error and leaves the session usable.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*ToolResult, error) {
	c.mu.RLock()
	inner := c.inner
	dead := c.transport
	c.mu.RUnlock()

	if inner == nil {
		return nil, ErrNotConnected
	}
	if dead != nil {
		return nil, &TransportError{Server: c.cfg.Name, Err: dead}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := inner.CallTool(cctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &ToolTimeoutError{Server: c.cfg.Name, Tool: name, Timeout: timeout}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTransportDead(err) {
			// The stream is gone or unframable; the session is done.
			c.mu.Lock()
			c.transport = err
			c.mu.Unlock()
			return nil, &TransportError{Server: c.cfg.Name, Err: err}
		}
		// Per-call JSON-RPC error reply; the session stays usable.
		return nil, fmt.Errorf("tools/call %q on %q: %w", name, c.cfg.Name, err)
	}

	out := &ToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		tc, ok := content.(sdk_mcp.TextContent)
		if !ok {
			continue
		}
		if env, ok := parseEnvelope(tc.Text); ok {
			out.fold(env)
			continue
		}
		out.Content = append(out.Content, ContentBlock{Type: "text", Text: tc.Text})
	}
	return out, nil
}

// isTransportDead reports whether err means the stdio stream itself died,
// as opposed to an error reply to this one call (invalid params, tool-side
// failure). Only stream death may poison the session.
func isTransportDead(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	// An unframable stdout stream surfaces as a JSON syntax error.
	var syn *json.SyntaxError
	return errors.As(err, &syn)
}

// Close sends shutdown and terminates the child, waiting a short grace
// period. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.tools = nil
	c.mu.Unlock()

	if inner == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- inner.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		log.Printf("[MCP] Close timed out for %q", c.cfg.Name)
		return nil
	}
}

// resultEnvelope is the extended tool-result shape some servers serialize
// into a text content block: content plus bibliography / artifacts /
// binaryOutput side channels.
type resultEnvelope struct {
	Content       []ContentBlock   `json:"content"`
	Bibliography  []map[string]any `json:"bibliography"`
	Artifacts     []map[string]any `json:"artifacts"`
	BinaryOutput  []BinaryOutput   `json:"binaryOutput"`
	BinaryOutputs []BinaryOutput   `json:"binaryOutputs"`
}

// parseEnvelope detects a JSON envelope inside a text block. A block
// qualifies only when it is a JSON object carrying at least one of the
// known envelope keys; everything else stays plain text.
func parseEnvelope(text string) (*resultEnvelope, bool) {
	if len(text) == 0 || text[0] != '{' {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, false
	}
	known := false
	for _, key := range []string{"bibliography", "artifacts", "binaryOutput", "binaryOutputs"} {
		if _, ok := probe[key]; ok {
			known = true
			break
		}
	}
	if !known {
		return nil, false
	}
	var env resultEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, false
	}
	return &env, true
}

func (r *ToolResult) fold(env *resultEnvelope) {
	for _, b := range env.Content {
		if b.Type == "text" && b.Text != "" {
			r.Content = append(r.Content, b)
		}
	}
	r.Bibliography = append(r.Bibliography, env.Bibliography...)
	r.Artifacts = append(r.Artifacts, env.Artifacts...)
	r.BinaryOutputs = append(r.BinaryOutputs, env.BinaryOutput...)
	r.BinaryOutputs = append(r.BinaryOutputs, env.BinaryOutputs...)
}
