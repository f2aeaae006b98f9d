package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults that apply when neither seqthink.yaml nor environment variables
// override them.
const (
	DefaultMaxRounds           = 5
	DefaultMaxFormatRetries    = 3
	DefaultToolTimeout         = 60 * time.Second
	DefaultProviderTurnTimeout = 120 * time.Second
)

// App holds process-wide settings for the orchestrator.
// Values come from seqthink.yaml when present, with environment overrides
// applied on top.
type App struct {
	MaxRounds            int    `yaml:"max_rounds"`
	MaxFormatRetries     int    `yaml:"max_format_retries"`
	DefaultToolTimeoutMS int    `yaml:"default_tool_timeout_ms"`
	ProviderTurnMS       int    `yaml:"provider_turn_timeout_ms"`
	APIBase              string `yaml:"api_base"` // forwarded to db-context MCP servers
}

// LoadApp reads the optional YAML config at path and applies env overrides.
// A missing file is not an error; the defaults are returned.
func LoadApp(path string) (App, error) {
	app := App{
		MaxRounds:            DefaultMaxRounds,
		MaxFormatRetries:     DefaultMaxFormatRetries,
		DefaultToolTimeoutMS: int(DefaultToolTimeout / time.Millisecond),
		ProviderTurnMS:       int(DefaultProviderTurnTimeout / time.Millisecond),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("[Config] No config file at %s, using defaults", path)
		case err != nil:
			return app, fmt.Errorf("config: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &app); err != nil {
				return app, fmt.Errorf("config: parse %q: %w", path, err)
			}
			log.Printf("[Config] Loaded %s", path)
		}
	}

	// Environment overrides.
	app.MaxRounds = GetenvInt("SEQTHINK_MAX_ROUNDS", app.MaxRounds)
	app.MaxFormatRetries = GetenvInt("SEQTHINK_MAX_FORMAT_RETRIES", app.MaxFormatRetries)
	if v := os.Getenv("SEQTHINK_API_BASE"); v != "" {
		app.APIBase = v
	}

	if app.MaxRounds < 1 {
		app.MaxRounds = DefaultMaxRounds
	}
	if app.MaxFormatRetries < 1 {
		app.MaxFormatRetries = DefaultMaxFormatRetries
	}
	if app.DefaultToolTimeoutMS <= 0 {
		app.DefaultToolTimeoutMS = int(DefaultToolTimeout / time.Millisecond)
	}
	if app.ProviderTurnMS <= 0 {
		app.ProviderTurnMS = int(DefaultProviderTurnTimeout / time.Millisecond)
	}
	return app, nil
}

// ToolTimeout returns the default per-call tool timeout as a duration.
func (a App) ToolTimeout() time.Duration {
	return time.Duration(a.DefaultToolTimeoutMS) * time.Millisecond
}

// ProviderTurnTimeout returns the per-provider-turn timeout as a duration.
func (a App) ProviderTurnTimeout() time.Duration {
	return time.Duration(a.ProviderTurnMS) * time.Millisecond
}
