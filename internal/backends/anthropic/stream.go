package anthropic

import (
	"encoding/json"
	"io"
	"strings"

	"llmgate/internal/backends/sse"
	"llmgate/internal/core"
)

// Streaming wire types.

type streamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	Message      *apiResponse  `json:"message,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *streamDelta  `json:"delta,omitempty"`
	Usage        *apiUsage     `json:"usage,omitempty"`
	Error        *streamError  `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// openBlock tracks the content block currently streaming, between
// content_block_start and content_block_stop.
type openBlock struct {
	kind string
	id   string
	name string
	args strings.Builder
}

// normalize reads the Messages SSE stream and emits unified events.
// Fragments are forwarded as they arrive; tool arguments are parsed only
// once at content_block_stop.
func (b *Backend) normalize(body io.ReadCloser, model string, stream *core.Stream) {
	defer stream.CloseSend()

	resp := &core.Response{Model: model, Backend: b.Name()}
	var text strings.Builder
	var block *openBlock
	scanner := sse.NewScanner(body)

	for {
		ev, err := scanner.Next()
		if err != nil {
			// Whatever was already emitted stands.
			if err == io.EOF {
				stream.Fail(core.NewBackendProtocolError(b.Name(), "stream ended before message_stop"))
			} else {
				stream.Fail(core.NewBackendProtocolError(b.Name(), "reading stream: "+err.Error()))
			}
			return
		}
		if string(ev.Data) == "[DONE]" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				resp.Model = event.Message.Model
				resp.Usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock == nil {
				continue
			}
			block = &openBlock{kind: event.ContentBlock.Type}
			if block.kind == "tool_use" {
				block.id = event.ContentBlock.ID
				block.name = event.ContentBlock.Name
				if !stream.Emit(core.ToolCallStarted{ID: block.id, Name: block.name}) {
					return
				}
			}

		case "content_block_delta":
			if event.Delta == nil || block == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				if !stream.Emit(core.TextFragment{Text: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				block.args.WriteString(event.Delta.PartialJSON)
				if !stream.Emit(core.ToolCallArgumentFragment{ID: block.id, Fragment: event.Delta.PartialJSON}) {
					return
				}
			}

		case "content_block_stop":
			if block == nil {
				continue
			}
			if block.kind == "tool_use" {
				args := parseArguments(block.args.String())
				resp.ToolCalls = append(resp.ToolCalls, core.ToolCall{
					ID:        block.id,
					Name:      block.name,
					Arguments: args,
				})
				if !stream.Emit(core.ToolCallCompleted{ID: block.id, Name: block.name, Arguments: args}) {
					return
				}
			}
			block = nil

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				resp.StopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				resp.Usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			resp.Content = text.String()
			resp.Usage.Normalize()
			stream.Emit(core.TurnCompleted{Response: resp})
			return

		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			stream.Fail(core.NewBackendError(b.Name(), 0, msg, nil))
			return

		case "ping":
			// keep-alive
		}
	}
}

// parseArguments parses accumulated tool-argument JSON. A fragment
// sequence that fails to reassemble yields empty arguments; the tool call
// itself is still reported.
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
