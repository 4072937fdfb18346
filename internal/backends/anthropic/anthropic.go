// Package anthropic implements the first-party Messages API backend, over
// either an API key or an OAuth bearer token.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"llmgate/internal/auth"
	"llmgate/internal/backends"
	"llmgate/internal/core"
	"llmgate/internal/httpclient"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// betaFeatures and identityPrompt are required by the OAuth entitlement:
	// tokens minted through the first-party login are only accepted for
	// requests that look like the first-party client's.
	betaFeatures   = "claude-code-20250219,oauth-2025-04-20,fine-grained-tool-streaming-2025-05-14"
	identityPrompt = "You are Claude Code, Anthropic's official CLI for Claude."
)

func init() {
	backends.Register(auth.BackendAnthropic, func(cfg backends.Config) (core.Backend, error) {
		b := New(cfg.APIKey, cfg.Tokens, cfg.Logger)
		if cfg.BaseURL != "" {
			b.baseURL = cfg.BaseURL
		}
		if cfg.Client != nil {
			b.client = cfg.Client
		}
		return b, nil
	})
}

// Backend talks to the Messages API. When apiKey is empty, requests carry
// the OAuth bearer token and the headers that entitlement requires.
type Backend struct {
	apiKey  string
	tokens  *auth.Manager
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(apiKey string, tokens *auth.Manager, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		apiKey:  apiKey,
		tokens:  tokens,
		baseURL: defaultBaseURL,
		client:  httpclient.New(httpclient.StreamingConfig()),
		logger:  logger.With("backend", auth.BackendAnthropic),
	}
}

func (b *Backend) Name() string { return auth.BackendAnthropic }

// Wire types for the Messages API.

type apiRequest struct {
	Model       string        `json:"model"`
	Messages    []apiMessage  `json:"messages"`
	System      []systemBlock `json:"system,omitempty"`
	Tools       []apiTool     `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      apiUsage       `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// buildRequest converts a unified request to the Messages wire format.
// The identity system block is injected first on OAuth; a configured
// system prompt follows it as a second block.
func (b *Backend) buildRequest(req *core.Request, stream bool) *apiRequest {
	out := &apiRequest{
		Model:       req.Model,
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.Temperature,
		Stream:      stream,
	}

	if b.apiKey == "" {
		out.System = append(out.System, systemBlock{Type: "text", Text: identityPrompt})
	}
	if req.System != "" {
		out.System = append(out.System, systemBlock{Type: "text", Text: req.System})
	}

	for _, tool := range req.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, apiTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			out.System = append(out.System, systemBlock{Type: "text", Text: msg.Content})

		case core.RoleToolResult:
			result, _ := json.Marshal(msg.Content)
			out.Messages = append(out.Messages, apiMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   result,
				}},
			})

		case core.RoleAssistant:
			var blocks []contentBlock
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = []contentBlock{{Type: "text", Text: ""}}
			}
			out.Messages = append(out.Messages, apiMessage{Role: "assistant", Content: blocks})

		default:
			out.Messages = append(out.Messages, apiMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	return out
}

func (b *Backend) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)

	if b.apiKey != "" {
		httpReq.Header.Set("x-api-key", b.apiKey)
		return httpReq, nil
	}

	if b.tokens == nil {
		return nil, core.ErrNoCredentials
	}
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("anthropic-beta", betaFeatures)
	return httpReq, nil
}

// Complete executes one unary turn.
func (b *Backend) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	body, err := json.Marshal(b.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	httpReq, err := b.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, core.NewBackendError(b.Name(), http.StatusBadGateway, "request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, core.NewBackendError(b.Name(), http.StatusBadGateway, "reading response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseBackendError(b.Name(), resp.StatusCode, respBody)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, core.NewBackendProtocolError(b.Name(), "unmarshaling response: "+err.Error())
	}
	return b.convertResponse(&apiResp), nil
}

func (b *Backend) convertResponse(resp *apiResponse) *core.Response {
	out := &core.Response{
		StopReason: resp.StopReason,
		Model:      resp.Model,
		Backend:    b.Name(),
		Usage: core.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	out.Usage.Normalize()

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: input,
			})
		}
	}
	return out
}

// Stream executes one streaming turn. The returned stream's Close releases
// the HTTP connection.
func (b *Backend) Stream(ctx context.Context, req *core.Request) (*core.Stream, error) {
	body, err := json.Marshal(b.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	httpReq, err := b.newHTTPRequest(ctx, body)
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
		return nil, core.ParseBackendError(b.Name(), resp.StatusCode, respBody)
	}

	stream := core.NewStream(func() { resp.Body.Close() })
	go b.normalize(resp.Body, req.Model, stream)
	return stream, nil
}
