// Package openrouter implements the chat-completions dialect backend over
// an API key.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"llmgate/internal/auth"
	"llmgate/internal/backends"
	"llmgate/internal/core"
	"llmgate/internal/httpclient"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

func init() {
	backends.Register(auth.BackendOpenRouter, func(cfg backends.Config) (core.Backend, error) {
		b := New(cfg.APIKey, cfg.Logger)
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
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(apiKey string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  httpclient.New(httpclient.StreamingConfig()),
		logger:  logger.With("backend", auth.BackendOpenRouter),
	}
}

func (b *Backend) Name() string { return auth.BackendOpenRouter }

// Chat-completions wire types.

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool    `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type apiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name string `json:"name"`
	// Arguments is a JSON-encoded string, as the dialect demands.
	Arguments string `json:"arguments"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   *apiUsage   `json:"usage,omitempty"`
}

type apiChoice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func buildRequest(req *core.Request, stream bool) *apiRequest {
	out := &apiRequest{
		Model:       req.Model,
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.Temperature,
		Stream:      stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, apiMessage{Role: "system", Content: req.System})
	}

	for _, tool := range req.Tools {
		var t apiTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Parameters
		out.Tools = append(out.Tools, t)
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleToolResult:
			out.Messages = append(out.Messages, apiMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})

		case core.RoleAssistant:
			m := apiMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil || tc.Arguments == nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, apiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: apiFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out.Messages = append(out.Messages, m)

		default:
			out.Messages = append(out.Messages, apiMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	return out
}

func (b *Backend) newHTTPRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	return httpReq, nil
}

// Complete executes one unary turn.
func (b *Backend) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	body, err := json.Marshal(buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	httpReq, err := b.newHTTPRequest(ctx, http.MethodPost, "/chat/completions", body)
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
	if len(apiResp.Choices) == 0 {
		return nil, core.NewBackendProtocolError(b.Name(), "response has no choices")
	}
	return b.convertResponse(&apiResp), nil
}

func (b *Backend) convertResponse(resp *apiResponse) *core.Response {
	choice := resp.Choices[0]
	out := &core.Response{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Model:      resp.Model,
		Backend:    b.Name(),
	}
	if resp.Usage != nil {
		out.Usage = core.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
		out.Usage.Normalize()
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}
	return out
}

// Stream executes one streaming turn.
func (b *Backend) Stream(ctx context.Context, req *core.Request) (*core.Stream, error) {
	body, err := json.Marshal(buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	httpReq, err := b.newHTTPRequest(ctx, http.MethodPost, "/chat/completions", body)
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

func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
