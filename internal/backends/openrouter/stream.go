package openrouter

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"llmgate/internal/backends/sse"
	"llmgate/internal/core"
)

// Streaming wire types.

type streamChunk struct {
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *apiUsage      `json:"usage,omitempty"`
	Error   *streamError   `json:"error,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []streamToolDelta `json:"tool_calls,omitempty"`
}

type streamToolDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type streamError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

// toolAccumulator gathers one concurrent tool call. Deltas are keyed by
// the numeric index; the id and name arrive on the first delta for that
// index, argument fragments trickle in afterwards.
type toolAccumulator struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// normalize reads the chat-completions SSE stream and emits unified
// events. Finalization happens at [DONE] or a finish_reason, whichever
// comes first; completed tool calls are emitted in index order.
func (b *Backend) normalize(body io.ReadCloser, model string, stream *core.Stream) {
	defer stream.CloseSend()

	resp := &core.Response{Model: model, Backend: b.Name()}
	var text strings.Builder
	tools := make(map[int]*toolAccumulator)
	finished := false
	scanner := sse.NewScanner(body)

	finalize := func() bool {
		if finished {
			return true
		}
		finished = true

		indexes := make([]int, 0, len(tools))
		for i := range tools {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			acc := tools[i]
			args := parseArguments(acc.args.String())
			resp.ToolCalls = append(resp.ToolCalls, core.ToolCall{
				ID:        acc.id,
				Name:      acc.name,
				Arguments: args,
			})
			if !stream.Emit(core.ToolCallCompleted{ID: acc.id, Name: acc.name, Arguments: args}) {
				return false
			}
		}

		resp.Content = text.String()
		resp.Usage.Normalize()
		return stream.Emit(core.TurnCompleted{Response: resp})
	}

	for {
		ev, err := scanner.Next()
		if err != nil {
			if err == io.EOF {
				finalize()
			} else {
				stream.Fail(core.NewBackendProtocolError(b.Name(), "reading stream: "+err.Error()))
			}
			return
		}
		if string(ev.Data) == "[DONE]" {
			finalize()
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			stream.Fail(core.NewBackendError(b.Name(), 0, chunk.Error.Message, nil))
			return
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.Usage = core.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if !stream.Emit(core.TextFragment{Text: choice.Delta.Content}) {
					return
				}
			}

			for _, td := range choice.Delta.ToolCalls {
				acc, ok := tools[td.Index]
				if !ok {
					acc = &toolAccumulator{index: td.Index}
					tools[td.Index] = acc
				}
				if td.ID != "" && acc.id == "" {
					acc.id = td.ID
				}
				if td.Function.Name != "" && acc.name == "" {
					acc.name = td.Function.Name
					if !stream.Emit(core.ToolCallStarted{ID: acc.id, Name: acc.name}) {
						return
					}
				}
				if td.Function.Arguments != "" {
					acc.args.WriteString(td.Function.Arguments)
					if !stream.Emit(core.ToolCallArgumentFragment{ID: acc.id, Fragment: td.Function.Arguments}) {
						return
					}
				}
			}

			if choice.FinishReason != "" {
				resp.StopReason = choice.FinishReason
			}
		}
	}
}
