// Package httpclient provides the shared HTTP client factory used by every
// backend. Pools are shared across requests; they hold no cross-request
// state, so no additional locking is required.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds the knobs that matter for long-lived streaming calls.
type Config struct {
	// Timeout bounds the whole request. Zero means no overall limit, which
	// streaming calls rely on; cancellation happens through the context.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns settings suitable for unary API calls. The ten
// minute ceiling matches the upstream SDK defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:               10 * time.Minute,
		ResponseHeaderTimeout: 10 * time.Minute,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// StreamingConfig returns settings for SSE calls: no overall timeout, the
// body stays open for the lifetime of the turn.
func StreamingConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	return cfg
}

// New creates an HTTP client from cfg.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewDefault creates an HTTP client with DefaultConfig.
func NewDefault() *http.Client {
	return New(DefaultConfig())
}
