package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/seqthink/seqthink/internal/config"
	"github.com/seqthink/seqthink/internal/mcp"
	"github.com/seqthink/seqthink/internal/provider"
	"github.com/seqthink/seqthink/internal/web"
)

func main() {
	config.LoadEnv()

	app, err := config.LoadApp(config.Getenv("SEQTHINK_CONFIG", "seqthink.yaml"))
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	log.Printf("[Main] Loop bounds: max_rounds=%d max_format_retries=%d", app.MaxRounds, app.MaxFormatRetries)

	ctx := context.Background()

	registry, err := provider.NewRegistryFromEnv(ctx)
	if err != nil {
		log.Fatalf("Provider setup failed: %v", err)
	}

	// MCP servers are optional; without mcp.json the loop runs tool-less.
	manager := mcp.NewManager(app.ToolTimeout())
	mcpPath := config.Getenv("MCP_CONFIG", "mcp.json")
	if _, statErr := os.Stat(mcpPath); statErr == nil {
		configs, err := mcp.LoadConfig(mcpPath)
		if err != nil {
			log.Fatalf("MCP config error: %v", err)
		}
		// db-context servers inherit the database URL through their env.
		if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
			for name, cfg := range configs {
				if !cfg.NeedsDBContext {
					continue
				}
				if cfg.Env == nil {
					cfg.Env = make(map[string]string)
				}
				if _, ok := cfg.Env["DATABASE_URL"]; !ok {
					cfg.Env["DATABASE_URL"] = dbURL
				}
				configs[name] = cfg
			}
		}
		if config.DebugEnabled() {
			manager.SetLogSink(func(server, method string, params json.RawMessage) {
				log.Printf("[MCP] %s %s: %s", server, method, params)
			})
		}
		manager.StartAll(ctx, configs)
		if failed := manager.FailedServers(); len(failed) > 0 {
			log.Printf("[Main] MCP servers failed to start: %v", failed)
		}
		log.Printf("[Main] MCP: %d server(s) ready", len(manager.ReadyServers()))
	} else {
		log.Printf("[Main] No MCP config at %s, running without tools", mcpPath)
	}
	defer manager.ShutdownAll()

	chatHandler := web.NewChatHandler(registry, manager, app)
	health := web.NewHealthHandler(manager, registry.Names())
	server := web.NewServer(chatHandler, health)

	if err := server.Start(); err != nil {
		log.Printf("Server error: %v", err)
	}
}
