// Package app assembles the gateway: credential discovery, token
// managers, backends, router, session store and catalog, built once and
// passed around explicitly.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"llmgate/config"
	"llmgate/internal/auth"
	"llmgate/internal/backends"
	"llmgate/internal/backends/codex"
	"llmgate/internal/backends/openrouter"
	"llmgate/internal/catalog"
	"llmgate/internal/core"
	"llmgate/internal/observability"
	"llmgate/internal/session"
)

// Gateway is the top-level context object. No globals: everything it
// needs is constructed in New and owned by the instance.
type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *backends.Router
	defaults string
	managers map[string]*auth.Manager
	metrics  *observability.Metrics
	sessions session.Store
	catalog  *catalog.Catalog

	orBackend    *openrouter.Backend
	codexBackend *codex.Backend
}

// New builds the gateway from configuration. Key-less OAuth backends are
// always constructed; their credentials are discovered lazily on first
// use. The openrouter backend requires its API key.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   logger,
		managers: make(map[string]*auth.Manager),
		metrics:  observability.NewMetrics(prometheus.DefaultRegisterer),
	}

	discovery := auth.NewDiscovery(cfg.CredentialsPath)
	for _, oauthCfg := range []auth.OAuthConfig{auth.AnthropicOAuth(), auth.CodexOAuth()} {
		mgr := auth.NewManager(oauthCfg, discovery, nil, logger)
		mgr.OnRefresh(g.metrics.ObserveRefresh)
		g.managers[oauthCfg.Backend] = mgr
	}

	constructed := make(map[string]core.Backend)

	anthropicBackend, err := backends.Create(auth.BackendAnthropic, backends.Config{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Tokens:  g.managers[auth.BackendAnthropic],
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	constructed[auth.BackendAnthropic] = anthropicBackend

	if cfg.OpenRouter.APIKey != "" {
		b, err := backends.Create(auth.BackendOpenRouter, backends.Config{
			APIKey:  cfg.OpenRouter.APIKey,
			BaseURL: cfg.OpenRouter.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		constructed[auth.BackendOpenRouter] = b
		g.orBackend = b.(*openrouter.Backend)
	}

	codexBackend, err := backends.Create(auth.BackendCodex, backends.Config{
		BaseURL: cfg.Codex.BaseURL,
		Tokens:  g.managers[auth.BackendCodex],
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	constructed[auth.BackendCodex] = codexBackend
	g.codexBackend = codexBackend.(*codex.Backend)

	g.defaults = cfg.DefaultBackend
	if g.defaults == "" && g.orBackend != nil {
		g.defaults = auth.BackendOpenRouter
	}
	g.router = backends.NewRouter(constructed, g.defaults)

	if err := g.initSessions(ctx); err != nil {
		return nil, err
	}
	g.initCatalog()

	return g, nil
}

func (g *Gateway) initSessions(ctx context.Context) error {
	var err error
	switch g.cfg.Session.Type {
	case "", "memory":
		g.sessions = session.NewMemoryStore()
	case "sqlite":
		g.sessions, err = session.NewSQLiteStore(g.cfg.Session.SQLitePath)
	case "postgres":
		g.sessions, err = session.NewPostgresStore(ctx, g.cfg.Session.PostgresURL)
	default:
		err = fmt.Errorf("unknown session store type: %s", g.cfg.Session.Type)
	}
	return err
}

func (g *Gateway) initCatalog() {
	if g.orBackend == nil {
		return
	}
	var cache catalog.Cache
	if g.cfg.Catalog.RedisURL != "" {
		redisCache, err := catalog.NewRedisCache(g.cfg.Catalog.RedisURL)
		if err != nil {
			g.logger.Warn("catalog redis cache unavailable, using local file", "error", err)
		} else {
			cache = redisCache
		}
	}
	if cache == nil {
		cache = catalog.NewLocalCache(g.cfg.Catalog.CachePath)
	}
	g.catalog = catalog.New(g.orBackend, cache)
}

// Complete routes and executes one unary turn.
func (g *Gateway) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	resp, err := g.router.Complete(ctx, req)
	g.observe(req.Model, resp, err)
	return resp, err
}

// Stream routes and executes one streaming turn. Events pass through a
// counting proxy so per-event metrics and the final outcome are recorded
// without buffering the stream.
func (g *Gateway) Stream(ctx context.Context, req *core.Request) (*core.Stream, error) {
	inner, err := g.router.Stream(ctx, req)
	if err != nil {
		g.observe(req.Model, nil, err)
		return nil, err
	}

	backendID, _, routeErr := backends.Route(req.Model, g.defaults)
	if routeErr != nil {
		backendID = "unrouted"
	}

	out := core.NewStream(func() { inner.Close() })
	go func() {
		defer out.CloseSend()
		for ev := range inner.Events() {
			g.metrics.ObserveStreamEvent(backendID, observability.EventKind(ev))
			if done, ok := ev.(core.TurnCompleted); ok {
				g.metrics.ObserveUsage(backendID, done.Response.Usage)
			}
			if !out.Emit(ev) {
				return
			}
		}
		err := inner.Err()
		if err != nil {
			out.Fail(err)
		}
		g.metrics.ObserveRequest(backendID, err)
	}()
	return out, nil
}

func (g *Gateway) observe(model string, resp *core.Response, err error) {
	backendID, _, routeErr := backends.Route(model, g.defaults)
	if routeErr != nil {
		backendID = "unrouted"
	}
	g.metrics.ObserveRequest(backendID, err)
	if resp != nil {
		g.metrics.ObserveUsage(backendID, resp.Usage)
	}
}

// Login runs the OAuth flow for an OAuth backend. openURL is invoked with
// the authorization URL. For backends with a loopback redirect the flow
// completes on the callback; otherwise readCode collects the pasted
// "code#state" value. The minted credential is persisted write-through.
func (g *Gateway) Login(ctx context.Context, backendID string, openURL func(string), readCode func() (string, error)) error {
	mgr, ok := g.managers[backendID]
	if !ok {
		return core.NewNoProviderError(backendID)
	}

	var oauthCfg auth.OAuthConfig
	switch backendID {
	case auth.BackendAnthropic:
		oauthCfg = auth.AnthropicOAuth()
	case auth.BackendCodex:
		oauthCfg = auth.CodexOAuth()
	}

	flow, err := auth.NewFlow(oauthCfg, nil, g.logger)
	if err != nil {
		return err
	}
	openURL(flow.AuthURL())

	var cred *auth.Credential
	if oauthCfg.CallbackAddr != "" {
		cred, err = flow.WaitCallback(ctx)
	} else {
		var pasted string
		pasted, err = readCode()
		if err != nil {
			return err
		}
		cred, err = flow.ExchangeManual(ctx, pasted)
	}
	if err != nil {
		return err
	}
	return mgr.SetCredential(cred)
}

// Models returns the model catalog. Requires the openrouter backend.
func (g *Gateway) Models(ctx context.Context) ([]catalog.ModelInfo, error) {
	if g.catalog == nil {
		return nil, core.NewNoProviderError(auth.BackendOpenRouter)
	}
	return g.catalog.Models(ctx)
}

// Usage reports the codex account's rate-limit standing.
func (g *Gateway) Usage(ctx context.Context) (*codex.UsageInfo, error) {
	return g.codexBackend.Usage(ctx)
}

// Sessions returns the conversation store.
func (g *Gateway) Sessions() session.Store {
	return g.sessions
}

// Close releases held resources.
func (g *Gateway) Close() error {
	if g.sessions != nil {
		return g.sessions.Close()
	}
	return nil
}
