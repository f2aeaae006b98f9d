package mcp

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_PopulatesNames(t *testing.T) {
	path := writeConfig(t, `{
		"mcpServers": {
			"pubtator": {"command": "uvx", "args": ["pubtator-mcp"], "timeout": 30000},
			"graph-mode-mcp": {"command": "node", "args": ["graph.js"], "needs_db_context": true}
		}
	}`)

	configs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d servers, want 2", len(configs))
	}
	if configs["pubtator"].Name != "pubtator" {
		t.Errorf("Name = %q, want pubtator", configs["pubtator"].Name)
	}
	if !configs["graph-mode-mcp"].NeedsDBContext {
		t.Error("needs_db_context not parsed")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_EmptyServers(t *testing.T) {
	path := writeConfig(t, `{}`)
	configs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(configs) != 0 {
		t.Errorf("got %d servers, want 0", len(configs))
	}
}

func TestCallTimeout_Fallback(t *testing.T) {
	def := 60 * time.Second
	if got := (ServerConfig{}).CallTimeout(def); got != def {
		t.Errorf("CallTimeout = %v, want default %v", got, def)
	}
	if got := (ServerConfig{TimeoutMS: 30000}).CallTimeout(def); got != 30*time.Second {
		t.Errorf("CallTimeout = %v, want 30s", got)
	}
}
