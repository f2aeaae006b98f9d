package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/seqthink/seqthink/internal/artifact"
	"github.com/seqthink/seqthink/internal/config"
	"github.com/seqthink/seqthink/internal/mcp"
	"github.com/seqthink/seqthink/internal/provider"
	"github.com/seqthink/seqthink/internal/stream"
	"github.com/seqthink/seqthink/internal/think"
)

const (
	maxRequestBody  = 10 << 20 // pinned artifacts can be large
	maxMessageRunes = 100000
)

// chatRequest is the JSON body of POST /api/chat.
type chatRequest struct {
	Message         string              `json:"message"`
	History         []provider.Message  `json:"history,omitempty"`
	PinnedArtifacts []artifact.Artifact `json:"pinned_artifacts,omitempty"`
	BlockedServers  []string            `json:"blocked_servers,omitempty"`
	AllowedTools    []string            `json:"allowed_tools,omitempty"`
	Mode            string              `json:"mode,omitempty"`
	Provider        string              `json:"provider,omitempty"`
	Model           string              `json:"model,omitempty"`
	Temperature     *float64            `json:"temperature,omitempty"`
	MaxTokens       int                 `json:"max_tokens,omitempty"`
	ConversationID  string              `json:"conversation_id,omitempty"`
}

// ChatHandler runs one thinking loop per POST /api/chat request and streams
// progress as NDJSON.
type ChatHandler struct {
	registry *provider.Registry
	manager  *mcp.Manager
	app      config.App
}

// NewChatHandler creates the handler.
func NewChatHandler(registry *provider.Registry, manager *mcp.Manager, app config.App) *ChatHandler {
	return &ChatHandler{registry: registry, manager: manager, app: app}
}

// HandleChat validates the request, picks the adapter and runs the loop.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		http.Error(w, "Message too long", http.StatusRequestEntityTooLarge)
		return
	}

	adapter, ok := h.pickAdapter(req.Provider)
	if !ok {
		http.Error(w, "Unknown provider: "+req.Provider, http.StatusBadRequest)
		return
	}
	model := req.Model
	if model == "" {
		model = provider.DefaultModel(adapter.Name())
	}

	log.Printf("[Chat] Request: provider=%s model=%s mode=%s history=%d", adapter.Name(), model, req.Mode, len(req.History))

	sw := stream.New(w, r)
	if sw == nil {
		return
	}

	engine := think.New(adapter, h.manager, think.Options{
		MaxRounds:        h.app.MaxRounds,
		MaxFormatRetries: h.app.MaxFormatRetries,
		TurnTimeout:      h.app.ProviderTurnTimeout(),
	})

	store, err := engine.Run(r.Context(), think.Request{
		Message:     req.Message,
		History:     req.History,
		Pinned:      req.PinnedArtifacts,
		Filter:      mcp.Filter{BlockedServers: req.BlockedServers, AllowedTools: req.AllowedTools},
		Mode:        req.Mode,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		CallContext: mcp.CallContext{
			ConversationID: req.ConversationID,
			APIBase:        h.app.APIBase,
			AuthToken:      bearerToken(r),
		},
	}, sw)
	if err != nil {
		kind := think.KindInternal
		var terr *think.Error
		if errors.As(err, &terr) {
			kind = terr.Kind
		}
		log.Printf("[Chat] Run failed (%s): %v", kind, err)
		sw.Error(kind, err.Error())
		return
	}

	sw.Result(store)
	log.Printf("[Chat] Done: %d segment(s), %d artifact(s)", len(store.Conversation), len(store.Artifacts))
}

func (h *ChatHandler) pickAdapter(name string) (provider.Adapter, bool) {
	if name == "" {
		return h.registry.Default()
	}
	return h.registry.Get(name)
}

// bearerToken extracts the Authorization bearer token, which db-context
// MCP servers receive as auth_token.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
