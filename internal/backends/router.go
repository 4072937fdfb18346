package backends

import (
	"context"
	"strings"

	"llmgate/internal/auth"
	"llmgate/internal/core"
)

// routeRule maps a model-id prefix to a backend. Explicit namespaces strip
// their prefix; bare family prefixes pass the model id through unchanged.
type routeRule struct {
	prefix  string
	backend string
	strip   bool
}

// routeTable is evaluated top to bottom, first match wins. Namespaced ids
// are checked before bare model-family prefixes so "openrouter/gpt-4o"
// never lands on the codex backend.
var routeTable = []routeRule{
	{prefix: "anthropic/", backend: auth.BackendAnthropic, strip: true},
	{prefix: "openrouter/", backend: auth.BackendOpenRouter, strip: true},
	{prefix: "openai/", backend: auth.BackendCodex, strip: true},
	{prefix: "claude-", backend: auth.BackendAnthropic},
	{prefix: "gpt-", backend: auth.BackendCodex},
	{prefix: "o1", backend: auth.BackendCodex},
	{prefix: "o3", backend: auth.BackendCodex},
	{prefix: "codex-", backend: auth.BackendCodex},
}

// Route resolves a model id to a backend id plus the model id to send
// upstream. defaultBackend catches everything the table misses; when it
// is empty an unmatched id is an error. Pure function, no network.
func Route(modelID, defaultBackend string) (backendID, localModel string, err error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return "", "", core.NewUnknownModelError(modelID)
	}

	for _, rule := range routeTable {
		if !strings.HasPrefix(modelID, rule.prefix) {
			continue
		}
		local := modelID
		if rule.strip {
			local = strings.TrimPrefix(modelID, rule.prefix)
		}
		return rule.backend, local, nil
	}

	if defaultBackend == "" {
		return "", "", core.NewNoProviderError("default")
	}
	return defaultBackend, modelID, nil
}

// Router dispatches unified requests to constructed backends by model id.
type Router struct {
	backends       map[string]core.Backend
	defaultBackend string
}

// NewRouter builds a router over the constructed backends. defaultBackend
// may be empty, in which case only table-matched models are routable.
func NewRouter(constructed map[string]core.Backend, defaultBackend string) *Router {
	return &Router{backends: constructed, defaultBackend: defaultBackend}
}

// Resolve returns the backend for a model id and the model id to send
// upstream. A model that routes to a backend that was never constructed
// fails with NoProviderConfiguredError naming that backend.
func (r *Router) Resolve(modelID string) (core.Backend, string, error) {
	backendID, localModel, err := Route(modelID, r.defaultBackend)
	if err != nil {
		return nil, "", err
	}
	b, ok := r.backends[backendID]
	if !ok {
		return nil, "", core.NewNoProviderError(backendID)
	}
	return b, localModel, nil
}

// Complete routes and executes one unary turn.
func (r *Router) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	b, localModel, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = localModel
	return b.Complete(ctx, &routed)
}

// Stream routes and executes one streaming turn.
func (r *Router) Stream(ctx context.Context, req *core.Request) (*core.Stream, error) {
	b, localModel, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = localModel
	return b.Stream(ctx, &routed)
}
