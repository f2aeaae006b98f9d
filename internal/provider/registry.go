package provider

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Registry holds the adapters whose API keys were present at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistryFromEnv constructs every provider whose key is set. A missing
// key disables that provider; a registry with zero providers is an error.
func NewRegistryFromEnv(ctx context.Context) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		a, err := NewOpenAI(key, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			return nil, err
		}
		r.adapters[a.Name()] = a
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		a, err := NewAnthropic(key)
		if err != nil {
			return nil, err
		}
		r.adapters[a.Name()] = a
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		a, err := NewGemini(ctx, key)
		if err != nil {
			return nil, err
		}
		r.adapters[a.Name()] = a
	}

	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("provider: no API keys configured")
	}
	for name := range r.adapters {
		log.Printf("[Provider] Enabled: %s", name)
	}
	return r, nil
}

// defaultOrder is the preference order when a request names no provider.
var defaultOrder = []string{"anthropic", "openai", "gemini"}

// defaultModels maps each provider to the model used when a request names
// none.
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.5-flash",
}

// DefaultModel returns the fallback model for a provider.
func DefaultModel(name string) string {
	return defaultModels[name]
}

// Default returns the preferred enabled adapter.
func (r *Registry) Default() (Adapter, bool) {
	for _, name := range defaultOrder {
		if a, ok := r.adapters[name]; ok {
			return a, true
		}
	}
	for _, a := range r.adapters {
		return a, true
	}
	return nil, false
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the enabled provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
