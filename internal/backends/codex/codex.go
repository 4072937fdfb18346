// Package codex implements the OAuth-gated Responses API backend. The
// upstream endpoint is streaming-only; unary completion drains the stream
// internally.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"llmgate/internal/auth"
	"llmgate/internal/backends"
	"llmgate/internal/core"
	"llmgate/internal/httpclient"
)

const defaultBaseURL = "https://chatgpt.com/backend-api"

func init() {
	backends.Register(auth.BackendCodex, func(cfg backends.Config) (core.Backend, error) {
		b := New(cfg.Tokens, cfg.Logger)
		if cfg.BaseURL != "" {
			b.baseURL = cfg.BaseURL
		}
		if cfg.Client != nil {
			b.client = cfg.Client
		}
		return b, nil
	})
}

type Backend struct {
	tokens  *auth.Manager
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(tokens *auth.Manager, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		tokens:  tokens,
		baseURL: defaultBaseURL,
		client:  httpclient.New(httpclient.StreamingConfig()),
		logger:  logger.With("backend", auth.BackendCodex),
	}
}

func (b *Backend) Name() string { return auth.BackendCodex }

// Responses API wire types.

type apiRequest struct {
	Model             string    `json:"model"`
	Instructions      string    `json:"instructions,omitempty"`
	Input             []apiItem `json:"input"`
	Tools             []apiTool `json:"tools,omitempty"`
	ToolChoice        string    `json:"tool_choice,omitempty"`
	ParallelToolCalls bool      `json:"parallel_tool_calls"`
	MaxOutputTokens   int       `json:"max_output_tokens,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	Store             bool      `json:"store"`
	Stream            bool      `json:"stream"`
	Include           []string  `json:"include"`
}

type apiItem struct {
	Type    string       `json:"type"`
	Role    string       `json:"role,omitempty"`
	Content []apiContent `json:"content,omitempty"`

	// function_call and function_call_output fields.
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status,omitempty"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// buildRequest converts a unified request. User input uses input_text
// parts, echoed assistant turns use output_text; tool results travel as
// function_call_output items paired by call_id.
func buildRequest(req *core.Request) *apiRequest {
	out := &apiRequest{
		Model:           req.Model,
		Instructions:    req.System,
		ToolChoice:      "auto",
		MaxOutputTokens: req.EffectiveMaxTokens(),
		Temperature:     req.Temperature,
		Store:           false,
		Stream:          true,
		Include:         []string{},
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, apiTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	if len(out.Tools) > 0 {
		out.ParallelToolCalls = true
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if out.Instructions == "" {
				out.Instructions = msg.Content
			} else {
				out.Instructions += "\n\n" + msg.Content
			}

		case core.RoleToolResult:
			out.Input = append(out.Input, apiItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.Content,
			})

		case core.RoleAssistant:
			if msg.Content != "" {
				out.Input = append(out.Input, apiItem{
					Type:    "message",
					Role:    "assistant",
					Content: []apiContent{{Type: "output_text", Text: msg.Content}},
				})
			}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil || tc.Arguments == nil {
					args = []byte("{}")
				}
				out.Input = append(out.Input, apiItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: string(args),
				})
			}

		default:
			out.Input = append(out.Input, apiItem{
				Type:    "message",
				Role:    "user",
				Content: []apiContent{{Type: "input_text", Text: msg.Content}},
			})
		}
	}

	return out
}

func (b *Backend) newHTTPRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	if b.tokens == nil {
		return nil, core.ErrNoCredentials
	}
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("OpenAI-Beta", "responses=experimental")
	if accountID := b.tokens.AccountID(); accountID != "" {
		httpReq.Header.Set("chatgpt-account-id", accountID)
	}
	return httpReq, nil
}

// mapError turns a non-200 response into a typed error, recognizing the
// distinct shapes this backend uses for rate limiting: a plain 429, and a
// 404 whose body names usage_limit_reached.
func (b *Backend) mapError(statusCode int, body []byte) *core.GatewayError {
	if statusCode == http.StatusTooManyRequests {
		return core.NewRateLimitedError(b.Name(), strings.TrimSpace(string(body)))
	}
	if statusCode == http.StatusNotFound && bytes.Contains(body, []byte("usage_limit_reached")) {
		return core.NewRateLimitedError(b.Name(), "usage limit reached")
	}
	return core.ParseBackendError(b.Name(), statusCode, body)
}

// Complete drains the backend's own stream; there is no unary mode.
func (b *Backend) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	stream, err := b.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return core.Collect(ctx, stream)
}

// Stream executes one streaming turn.
func (b *Backend) Stream(ctx context.Context, req *core.Request) (*core.Stream, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := b.newHTTPRequest(ctx, http.MethodPost, "/codex/responses", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, core.NewBackendError(b.Name(), http.StatusBadGateway, "request failed: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := httpclient.ReadBody(resp)
		resp.Body.Close()
		return nil, b.mapError(resp.StatusCode, respBody)
	}

	stream := core.NewStream(func() { resp.Body.Close() })
	go b.normalize(resp.Body, req.Model, stream)
	return stream, nil
}
