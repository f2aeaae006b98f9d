package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/seqthink/seqthink/internal/mcp"
)

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	manager   *mcp.Manager
	providers []string
	startTime time.Time
}

// NewHealthHandler creates a health handler recording the server start time.
func NewHealthHandler(manager *mcp.Manager, providers []string) *HealthHandler {
	return &HealthHandler{manager: manager, providers: providers, startTime: time.Now()}
}

type healthResponse struct {
	Status     string                     `json:"status"`
	UptimeSecs int64                      `json:"uptime_seconds"`
	Providers  []string                   `json:"providers"`
	Servers    map[string]mcp.ServerState `json:"mcp_servers"`
}

// ServeHTTP reports process status. Failed MCP servers degrade the status
// but the endpoint stays 200; the process can still answer without tools.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	states := h.manager.ServerStates()
	status := "ok"
	for _, st := range states {
		if st == mcp.StateFailed {
			status = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:     status,
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Providers:  h.providers,
		Servers:    states,
	})
}
