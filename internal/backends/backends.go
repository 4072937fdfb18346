// Package backends provides the backend factory and model router for the
// LLM gateway. Backend packages self-register from init(), mirroring how
// drivers register with database/sql.
package backends

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"llmgate/internal/auth"
	"llmgate/internal/core"
)

// Config carries everything a backend needs at construction time. APIKey
// and Tokens are alternatives: key-based backends ignore Tokens, OAuth
// backends ignore APIKey, and the anthropic backend accepts either.
type Config struct {
	APIKey  string
	BaseURL string
	Tokens  *auth.Manager
	Client  *http.Client
	Logger  *slog.Logger
}

// Builder creates a backend instance from configuration.
type Builder func(cfg Config) (core.Backend, error)

var registry = make(map[string]Builder)

// Register is called from backend package init() functions.
func Register(name string, builder Builder) {
	registry[name] = builder
}

// Create instantiates a registered backend by name.
func Create(name string, cfg Config) (core.Backend, error) {
	builder, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return builder(cfg)
}

// Registered returns the registered backend names, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
