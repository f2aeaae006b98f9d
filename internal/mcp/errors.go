package mcp

import (
	"errors"
	"fmt"
	"time"
)

// Routing failures surfaced by the Manager.
var (
	ErrUnknownTool    = errors.New("mcp: unknown tool")
	ErrServerNotReady = errors.New("mcp: server not ready")
	ErrNotConnected   = errors.New("mcp: client not connected")
)

// StartupError reports a failure to spawn or handshake with a server.
type StartupError struct {
	Server string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("mcp: start server %q: %v", e.Server, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ToolTimeoutError reports a per-call timeout elapsing before the server
// responded.
type ToolTimeoutError struct {
	Server  string
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("mcp: tool %q on %q timed out after %s", e.Tool, e.Server, e.Timeout)
}

// TransportError reports a dead child process or an unframable stream.
// In-flight and subsequent calls on the session fail with this kind until
// the server is re-established by a later StartAll.
type TransportError struct {
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp: transport for %q: %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
