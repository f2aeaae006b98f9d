package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"
)

// GraphModeServer is the well-known server name that always receives
// request db-context fields, even without needs_db_context in its config.
const GraphModeServer = "graph-mode-mcp"

// ServerState tracks the lifecycle of one registered server.
//
//	starting → ready    on successful initialize + catalog
//	starting → failed   on startup error or handshake timeout
//	ready    → failed   on transport death
//	*        → stopped  on ShutdownAll
type ServerState string

const (
	StateStarting ServerState = "starting"
	StateReady    ServerState = "ready"
	StateFailed   ServerState = "failed"
	StateStopped  ServerState = "stopped"
)

// ToolDescriptor is one catalog entry owned by the Manager.
type ToolDescriptor struct {
	Server      string
	Name        string // server-local tool name
	WireName    string
	Description string
	InputSchema []byte
}

// Filter narrows the tool catalog per request.
type Filter struct {
	BlockedServers []string
	AllowedTools   []string // wire names; nil means all
}

// CallContext carries read-only request fields that db-context servers
// receive alongside the model-supplied arguments.
type CallContext struct {
	ConversationID string
	APIBase        string
	AuthToken      string
}

type wireTarget struct {
	server string
	tool   string
}

type server struct {
	cfg     ServerConfig
	state   ServerState
	client  *Client
	catalog []ToolDescriptor
	err     error
}

// Manager owns the lifecycle of all MCP server subprocesses and the
// wire-name bijection. Registrations live for the life of the process;
// mutation happens only in StartAll and ShutdownAll.
//
// Concurrency model: state is guarded by mu, network I/O always runs
// outside the lock so a hung child cannot block other operations.
type Manager struct {
	mu             sync.RWMutex
	servers        map[string]*server
	wire           map[string]wireTarget
	order          []string // server registration order (sorted at StartAll)
	defaultTimeout time.Duration
	logSink        LogHandler
}

// NewManager creates an empty Manager. defaultTimeout bounds tool calls on
// servers whose config does not set one.
func NewManager(defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Manager{
		servers:        make(map[string]*server),
		wire:           make(map[string]wireTarget),
		defaultTimeout: defaultTimeout,
	}
}

// SetLogSink registers the sink that receives child log notifications.
// Must be called before StartAll.
func (m *Manager) SetLogSink(h LogHandler) {
	m.mu.Lock()
	m.logSink = h
	m.mu.Unlock()
}

// StartAll connects every configured server. One server failing does not
// prevent others from coming up; outcomes are recorded per server and
// reflected by ReadyServers / FailedServers. Servers are processed in
// sorted name order so wire-name collision suffixes are deterministic.
func (m *Manager) StartAll(ctx context.Context, configs map[string]ServerConfig) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	sink := m.logSink
	for _, name := range names {
		m.servers[name] = &server{cfg: configs[name], state: StateStarting}
	}
	m.mu.Unlock()

	// Network I/O outside the lock.
	for _, name := range names {
		cfg := configs[name]
		cli := NewClient(cfg)
		if sink != nil {
			cli.OnLog(sink)
		}

		if err := cli.Connect(ctx); err != nil {
			log.Printf("[MCP] Start failed: %s: %v", name, err)
			m.mu.Lock()
			m.servers[name].state = StateFailed
			m.servers[name].err = err
			m.mu.Unlock()
			continue
		}

		infos, err := cli.ListTools()
		if err != nil {
			_ = cli.Close()
			m.mu.Lock()
			m.servers[name].state = StateFailed
			m.servers[name].err = err
			m.mu.Unlock()
			continue
		}

		m.registerServer(name, cli, infos)
		log.Printf("[MCP] Ready: %s (%d tool(s))", name, len(infos))
	}
}

// registerServer records a connected server and its catalog, assigning wire
// names. Collisions get a deterministic "-2", "-3", … suffix in
// registration order. Re-registering a name (a re-established server)
// replaces its previous wire entries so the bijection stays intact.
func (m *Manager) registerServer(name string, cli *Client, infos []ToolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv, ok := m.servers[name]
	if !ok {
		srv = &server{cfg: ServerConfig{Name: name}}
		m.servers[name] = srv
	}

	for wire, target := range m.wire {
		if target.server == name {
			delete(m.wire, wire)
		}
	}

	catalog := make([]ToolDescriptor, 0, len(infos))
	for _, ti := range infos {
		wire := WireName(name, ti.Name)
		if _, taken := m.wire[wire]; taken {
			for n := 2; ; n++ {
				candidate := wire + "-" + strconv.Itoa(n)
				if _, taken := m.wire[candidate]; !taken {
					wire = candidate
					break
				}
			}
		}
		m.wire[wire] = wireTarget{server: name, tool: ti.Name}
		catalog = append(catalog, ToolDescriptor{
			Server:      name,
			Name:        ti.Name,
			WireName:    wire,
			Description: ti.Description,
			InputSchema: ti.InputSchema,
		})
	}

	srv.client = cli
	srv.catalog = catalog
	srv.state = StateReady
	srv.err = nil
	if !contains(m.order, name) {
		m.order = append(m.order, name)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// ReadyServers returns the names of servers in state ready, sorted.
func (m *Manager) ReadyServers() []string { return m.serversIn(StateReady) }

// FailedServers returns the names of servers in state failed, sorted.
func (m *Manager) FailedServers() []string { return m.serversIn(StateFailed) }

func (m *Manager) serversIn(state ServerState) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, srv := range m.servers {
		if srv.state == state {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServerStates returns a snapshot of every registration's state.
func (m *Manager) ServerStates() map[string]ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServerState, len(m.servers))
	for name, srv := range m.servers {
		out[name] = srv.state
	}
	return out
}

// AvailableTools returns the catalog union over all ready servers, less any
// server in filter.BlockedServers and, when filter.AllowedTools is set, any
// wire name not in it. Order is registration order per server, servers in
// StartAll order.
func (m *Manager) AvailableTools(filter Filter) []ToolDescriptor {
	blocked := make(map[string]bool, len(filter.BlockedServers))
	for _, s := range filter.BlockedServers {
		blocked[s] = true
	}
	var allowed map[string]bool
	if filter.AllowedTools != nil {
		allowed = make(map[string]bool, len(filter.AllowedTools))
		for _, w := range filter.AllowedTools {
			allowed[w] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolDescriptor
	for _, name := range m.order {
		srv, ok := m.servers[name]
		if !ok || srv.state != StateReady || blocked[name] {
			continue
		}
		for _, td := range srv.catalog {
			if allowed != nil && !allowed[td.WireName] {
				continue
			}
			out = append(out, td)
		}
	}
	return out
}

// ResolveLabel rehydrates a provider-emitted tool label into a registered
// wire name. Providers emit labels under different conventions: the wire
// name itself, a dotted "server.tool" namespace, or the legacy
// "mcp_server__tool" prefix form.
func (m *Manager) ResolveLabel(label string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.wire[label]; ok {
		return label, true
	}

	try := func(server, tool string) (string, bool) {
		wire := WireName(server, tool)
		if _, ok := m.wire[wire]; ok {
			return wire, true
		}
		return "", false
	}

	// Dotted namespace: server.tool (split at each dot, first match wins).
	for i := 0; i < len(label); i++ {
		if label[i] == '.' {
			if wire, ok := try(label[:i], label[i+1:]); ok {
				return wire, true
			}
		}
	}

	// Prefixed namespace: mcp_<server>__<tool>.
	const prefix = "mcp_"
	if len(label) > len(prefix) && label[:len(prefix)] == prefix {
		rest := label[len(prefix):]
		for i := 0; i+1 < len(rest); i++ {
			if rest[i] == '_' && rest[i+1] == '_' {
				if wire, ok := try(rest[:i], rest[i+2:]); ok {
					return wire, true
				}
			}
		}
	}

	return "", false
}

// CallTool resolves wireName and forwards the call to the owning server.
// Fails with ErrUnknownTool when the mapping is absent and ErrServerNotReady
// when the server exists but is not ready. db-context servers get the
// request context fields folded into args before forwarding; model-supplied
// keys are never overwritten. Transport death marks the server failed; no
// auto-restart happens within a request.
func (m *Manager) CallTool(ctx context.Context, wireName string, args map[string]any, cc CallContext) (*ToolResult, error) {
	m.mu.RLock()
	target, ok := m.wire[wireName]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, wireName)
	}
	srv := m.servers[target.server]
	if srv == nil || srv.state != StateReady {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrServerNotReady, target.server)
	}
	cli := srv.client
	cfg := srv.cfg
	m.mu.RUnlock()

	if args == nil {
		args = make(map[string]any)
	}
	if cfg.NeedsDBContext || target.server == GraphModeServer {
		setIfAbsent(args, "conversation_id", cc.ConversationID)
		setIfAbsent(args, "api_base", cc.APIBase)
		setIfAbsent(args, "auth_token", cc.AuthToken)
	}

	result, err := cli.CallTool(ctx, target.tool, args, cfg.CallTimeout(m.defaultTimeout))
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			m.mu.Lock()
			if srv.state == StateReady {
				srv.state = StateFailed
				srv.err = err
			}
			m.mu.Unlock()
			log.Printf("[MCP] Transport lost: %s: %v", target.server, err)
		}
		return nil, err
	}
	return result, nil
}

// ShutdownAll closes every server connection and marks all registrations
// stopped. Idempotent.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	clients := make(map[string]*Client)
	for name, srv := range m.servers {
		if srv.client != nil && srv.state != StateStopped {
			clients[name] = srv.client
		}
		srv.state = StateStopped
		srv.client = nil
	}
	m.wire = make(map[string]wireTarget)
	m.order = nil
	m.mu.Unlock()

	for name, cli := range clients {
		if err := cli.Close(); err != nil {
			log.Printf("[MCP] Close error for %q: %v", name, err)
		}
	}
	if len(clients) > 0 {
		log.Printf("[MCP] All connections closed")
	}
}

func setIfAbsent(args map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, exists := args[key]; !exists {
		args[key] = value
	}
}
