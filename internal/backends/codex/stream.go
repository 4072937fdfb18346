package codex

import (
	"encoding/json"
	"io"
	"strings"

	"llmgate/internal/backends/sse"
	"llmgate/internal/core"
)

// Streaming wire types. Tool-call discovery is split across two events:
// response.output_item.added carries the call id and name, and
// response.output_item.done carries the final arguments string. Argument
// fragments arrive in between on response.function_call_arguments.delta.

type streamEvent struct {
	Type     string          `json:"type"`
	ItemID   string          `json:"item_id,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	Item     *outputItem     `json:"item,omitempty"`
	Response *streamResponse `json:"response,omitempty"`
	Error    *streamError    `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type outputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type streamResponse struct {
	Status string    `json:"status"`
	Usage  *apiUsage `json:"usage,omitempty"`
}

type streamError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// openCall tracks one function call between its added and done events,
// keyed by the item id the delta events reference.
type openCall struct {
	callID string
	name   string
	args   strings.Builder
}

// normalize reads the Responses SSE stream and emits unified events.
func (b *Backend) normalize(body io.ReadCloser, model string, stream *core.Stream) {
	defer stream.CloseSend()

	resp := &core.Response{Model: model, Backend: b.Name()}
	var text strings.Builder
	calls := make(map[string]*openCall)
	completed := false
	scanner := sse.NewScanner(body)

	for {
		ev, err := scanner.Next()
		if err != nil {
			if err == io.EOF {
				if !completed {
					stream.Fail(core.NewBackendProtocolError(b.Name(), "stream ended before response.completed"))
				}
			} else {
				stream.Fail(core.NewBackendProtocolError(b.Name(), "reading stream: "+err.Error()))
			}
			return
		}
		if string(ev.Data) == "[DONE]" {
			if !completed {
				stream.Fail(core.NewBackendProtocolError(b.Name(), "stream ended before response.completed"))
			}
			return
		}

		var event streamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			continue
		}

		switch event.Type {
		case "response.output_item.added":
			if event.Item == nil || event.Item.Type != "function_call" {
				continue
			}
			call := &openCall{callID: event.Item.CallID, name: event.Item.Name}
			if call.callID == "" {
				call.callID = event.Item.ID
			}
			calls[event.Item.ID] = call
			if !stream.Emit(core.ToolCallStarted{ID: call.callID, Name: call.name}) {
				return
			}

		case "response.output_text.delta":
			if event.Delta == "" {
				continue
			}
			text.WriteString(event.Delta)
			if !stream.Emit(core.TextFragment{Text: event.Delta}) {
				return
			}

		case "response.function_call_arguments.delta":
			call, ok := calls[event.ItemID]
			if !ok {
				continue
			}
			call.args.WriteString(event.Delta)
			if !stream.Emit(core.ToolCallArgumentFragment{ID: call.callID, Fragment: event.Delta}) {
				return
			}

		case "response.output_item.done":
			if event.Item == nil || event.Item.Type != "function_call" {
				continue
			}
			call, ok := calls[event.Item.ID]
			if !ok {
				call = &openCall{callID: event.Item.CallID, name: event.Item.Name}
			}
			raw := event.Item.Arguments
			if raw == "" {
				raw = call.args.String()
			}
			args := parseArguments(raw)
			resp.ToolCalls = append(resp.ToolCalls, core.ToolCall{
				ID:        call.callID,
				Name:      call.name,
				Arguments: args,
			})
			delete(calls, event.Item.ID)
			if !stream.Emit(core.ToolCallCompleted{ID: call.callID, Name: call.name, Arguments: args}) {
				return
			}

		case "response.completed":
			if event.Response != nil && event.Response.Usage != nil {
				resp.Usage = core.Usage{
					InputTokens:  event.Response.Usage.InputTokens,
					OutputTokens: event.Response.Usage.OutputTokens,
					TotalTokens:  event.Response.Usage.TotalTokens,
				}
			}
			if len(resp.ToolCalls) > 0 {
				resp.StopReason = "tool_use"
			} else {
				resp.StopReason = "stop"
			}
			resp.Content = text.String()
			resp.Usage.Normalize()
			completed = true
			stream.Emit(core.TurnCompleted{Response: resp})
			return

		case "response.failed", "error":
			msg := event.Message
			if event.Error != nil && event.Error.Message != "" {
				msg = event.Error.Message
			}
			if msg == "" {
				msg = "stream failed"
			}
			if strings.Contains(msg, "usage_limit_reached") || (event.Error != nil && event.Error.Code == "rate_limit_exceeded") {
				stream.Fail(core.NewRateLimitedError(b.Name(), msg))
			} else {
				stream.Fail(core.NewBackendError(b.Name(), 0, msg, nil))
			}
			return
		}
	}
}

func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
