package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType classifies a gateway error.
type ErrorType string

const (
	// ErrorTypeNoCredentials means no credential could be discovered for a
	// backend; recoverable by running the OAuth login flow.
	ErrorTypeNoCredentials ErrorType = "no_credentials"
	// ErrorTypeAuthentication covers OAuth state mismatches and rejected
	// tokens; fatal to the attempt.
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeTimeout covers the OAuth callback wait and overall request
	// deadlines; retryable.
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeTokenRefresh means the refresh endpoint rejected the
	// credential; fatal, requires a fresh login.
	ErrorTypeTokenRefresh ErrorType = "token_refresh_error"
	// ErrorTypeRateLimit is retryable by the caller with backoff; the
	// gateway never retries internally.
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeNoProvider means the model routed to a backend that was
	// never constructed, or no default backend is configured.
	ErrorTypeNoProvider ErrorType = "no_provider_configured"
	// ErrorTypeUnknownModel means the model id is unroutable.
	ErrorTypeUnknownModel ErrorType = "unknown_model"
	// ErrorTypeProtocol means a backend emitted an event shape the
	// normalizer does not recognize; the stream is aborted.
	ErrorTypeProtocol ErrorType = "backend_protocol_error"
	// ErrorTypeBackend is any other upstream failure.
	ErrorTypeBackend ErrorType = "backend_error"
)

// GatewayError is the error type for everything that crosses the gateway's
// API boundary. Callers always receive either a fully-formed result or one
// of these; never a silent partial result.
type GatewayError struct {
	Type       ErrorType
	Message    string
	Backend    string
	StatusCode int
	// Body holds the raw upstream response body for refresh and backend
	// failures; useful for diagnosis, never parsed again.
	Body string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match on error type, so sentinel-style checks like
// errors.Is(err, ErrNoCredentials) work across wrapped errors.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinels for errors.Is checks.
var (
	ErrNoCredentials = &GatewayError{Type: ErrorTypeNoCredentials, Message: "no credentials available"}
	ErrRateLimited   = &GatewayError{Type: ErrorTypeRateLimit, Message: "rate limited"}
)

// NewAuthenticationError reports a failed authentication attempt.
func NewAuthenticationError(backend, message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeAuthentication, Backend: backend, Message: message, StatusCode: http.StatusUnauthorized}
}

// NewTimeoutError reports an expired wait or deadline.
func NewTimeoutError(what string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeTimeout, Message: what + " timed out", Err: err}
}

// NewTokenRefreshError reports a rejected or failed token refresh. body is
// the upstream response body when the endpoint answered non-200.
func NewTokenRefreshError(backend, message, body string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeTokenRefresh, Backend: backend, Message: message, Body: body, Err: err}
}

// NewRateLimitedError reports upstream rate limiting.
func NewRateLimitedError(backend, message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeRateLimit, Backend: backend, Message: message, StatusCode: http.StatusTooManyRequests}
}

// NewNoProviderError reports a route to a backend that is not constructed.
func NewNoProviderError(backend string) *GatewayError {
	return &GatewayError{Type: ErrorTypeNoProvider, Backend: backend, Message: fmt.Sprintf("no %s provider configured", backend)}
}

// NewUnknownModelError reports an unroutable model id.
func NewUnknownModelError(model string) *GatewayError {
	return &GatewayError{Type: ErrorTypeUnknownModel, Message: fmt.Sprintf("unknown model: %q", model)}
}

// NewBackendProtocolError reports an unrecognized event shape.
func NewBackendProtocolError(backend, message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeProtocol, Backend: backend, Message: message}
}

// NewBackendError reports a generic upstream failure.
func NewBackendError(backend string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeBackend, Backend: backend, StatusCode: statusCode, Message: message, Err: err}
}

// ParseBackendError maps a non-200 upstream response to a typed error.
// The message is pulled from the JSON error envelope when one is present,
// falling back to the raw body.
func ParseBackendError(backend string, statusCode int, body []byte) *GatewayError {
	message := string(body)
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			message = v.Str
			break
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(backend, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitedError(backend, message)
	default:
		err := NewBackendError(backend, statusCode, message, nil)
		err.Body = string(body)
		return err
	}
}
