package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// mcpConfigFile mirrors the top-level structure of mcp.json.
// Unknown fields are ignored.
type mcpConfigFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig describes a single MCP server subprocess.
// The Name field is populated from the map key in mcp.json, not from a JSON field.
type ServerConfig struct {
	Name           string            // derived from the map key in mcp.json
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutMS      int               `json:"timeout,omitempty"`          // per-call timeout; 0 means the configured default
	NeedsDBContext bool              `json:"needs_db_context,omitempty"` // augment tool args with request context fields
}

// CallTimeout returns the per-call timeout for this server, falling back to
// def when the config does not specify one.
func (c ServerConfig) CallTimeout(def time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return def
}

// LoadConfig reads and parses mcp.json from path.
// The Name field of each ServerConfig is populated from the map key.
func LoadConfig(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config %q: %w", path, err)
	}

	var file mcpConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("mcp: parse config %q: %w", path, err)
	}

	if file.MCPServers == nil {
		return map[string]ServerConfig{}, nil
	}

	for key, cfg := range file.MCPServers {
		cfg.Name = key
		file.MCPServers[key] = cfg
	}
	return file.MCPServers, nil
}
