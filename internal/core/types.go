// Package core provides the shared data model, typed errors and interfaces
// for the LLM gateway.
package core

// Role values for Message.Role.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleSystem     = "system"
	RoleToolResult = "tool_result"
)

// Message is a single entry in a conversation. The conversation is
// append-only and owned by the caller; backends only read it.
//
// For role "tool_result", ToolCallID identifies the originating tool call
// and Name carries the tool name. For assistant turns that issued tool
// calls, ToolCalls holds them and Content holds the accompanying text,
// if any.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a fully assembled tool invocation requested by the model.
// During streaming the arguments arrive as string fragments that are only
// valid JSON once concatenated; a ToolCall is never constructed from a
// partial accumulation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef describes a tool offered to the model. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage holds raw token counters for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Normalize fills TotalTokens when the backend omitted it.
func (u *Usage) Normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
}

// Response is the final result of one completed turn.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model"`
	Backend    string     `json:"backend"`
}

// Request is the unified completion request accepted by every backend.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolDef
	MaxTokens   int
	Temperature *float64
}

// DefaultMaxTokens is applied when Request.MaxTokens is zero.
const DefaultMaxTokens = 8192

// EffectiveMaxTokens returns MaxTokens or the default.
func (r *Request) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}
