package codex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llmgate/internal/auth"
	"llmgate/internal/core"
)

// testManager builds an auth.Manager preloaded with a non-expiring
// credential so no discovery or refresh happens.
func testManager(t *testing.T) *auth.Manager {
	t.Helper()
	mgr := auth.NewManager(auth.CodexOAuth(), auth.NewDiscoveryWithStores(), nil, nil)
	if err := mgr.SetCredential(&auth.Credential{
		AccessToken: "test-token",
		AccountID:   "acct_1",
	}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	return mgr
}

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("chatgpt-account-id"); got != "acct_1" {
			t.Errorf("chatgpt-account-id = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "responses=experimental" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
	}))
}

func drain(t *testing.T, s *core.Stream) []core.StreamEvent {
	t.Helper()
	var events []core.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestStreamSplitToolCallEvents(t *testing.T) {
	lines := []string{
		`{"type":"response.created"}`,
		`{"type":"response.output_item.added","item":{"id":"item_1","type":"function_call","call_id":"call_1","name":"get_weather"}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{\"city\":"}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"\"Paris\"}"}`,
		`{"type":"response.output_item.done","item":{"id":"item_1","type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}`,
		`{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":8,"output_tokens":4,"total_tokens":12}}}`,
		`[DONE]`,
	}
	srv := sseServer(t, lines)
	defer srv.Close()

	b := New(testManager(t), nil)
	b.baseURL = srv.URL

	stream, err := b.Stream(context.Background(), &core.Request{
		Model:    "gpt-5",
		Messages: []core.Message{{Role: "user", Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	events := drain(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	wantKinds := []string{
		"ToolCallStarted", "ToolCallArgumentFragment", "ToolCallArgumentFragment",
		"ToolCallCompleted", "TurnCompleted",
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(wantKinds), events)
	}
	for i, kind := range wantKinds {
		if got := fmt.Sprintf("%T", events[i]); got != "core."+kind {
			t.Errorf("event[%d] = %s, want core.%s", i, got, kind)
		}
	}

	started := events[0].(core.ToolCallStarted)
	if started.ID != "call_1" || started.Name != "get_weather" {
		t.Errorf("ToolCallStarted = %+v", started)
	}

	done := events[len(events)-1].(core.TurnCompleted)
	if len(done.Response.ToolCalls) != 1 || done.Response.ToolCalls[0].Arguments["city"] != "Paris" {
		t.Errorf("ToolCalls = %+v", done.Response.ToolCalls)
	}
	if done.Response.Usage.TotalTokens != 12 {
		t.Errorf("TotalTokens = %d, want 12", done.Response.Usage.TotalTokens)
	}
	if done.Response.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", done.Response.StopReason)
	}
}

func TestCompleteDrainsOwnStream(t *testing.T) {
	lines := []string{
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
		`{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":2,"output_tokens":2,"total_tokens":4}}}`,
		`[DONE]`,
	}
	srv := sseServer(t, lines)
	defer srv.Close()

	b := New(testManager(t), nil)
	b.baseURL = srv.URL

	resp, err := b.Complete(context.Background(), &core.Request{
		Model:    "gpt-5",
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("Content = %q, want Hello", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q, want stop", resp.StopReason)
	}
}

func TestRateLimitMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"plain 429", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`},
		{"404 usage limit", http.StatusNotFound, `{"detail":"usage_limit_reached"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			b := New(testManager(t), nil)
			b.baseURL = srv.URL

			_, err := b.Stream(context.Background(), &core.Request{
				Model:    "gpt-5",
				Messages: []core.Message{{Role: "user", Content: "hi"}},
			})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, core.ErrRateLimited) {
				t.Errorf("error = %v, want rate limited", err)
			}
		})
	}
}

func TestStreamFailedEvent(t *testing.T) {
	lines := []string{
		`{"type":"response.output_text.delta","delta":"partial"}`,
		`{"type":"error","error":{"code":"server_error","message":"upstream blew up"}}`,
	}
	srv := sseServer(t, lines)
	defer srv.Close()

	b := New(testManager(t), nil)
	b.baseURL = srv.URL

	stream, err := b.Stream(context.Background(), &core.Request{
		Model:    "gpt-5",
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	events := drain(t, stream)
	// The already-emitted prefix stands.
	if len(events) != 1 {
		t.Fatalf("got %d events, want the emitted text fragment", len(events))
	}
	var gerr *core.GatewayError
	if err := stream.Err(); err == nil || !errors.As(err, &gerr) {
		t.Fatalf("stream error = %v, want GatewayError", stream.Err())
	} else if gerr.Backend != "codex" {
		t.Errorf("Backend = %q, want codex", gerr.Backend)
	}
}

func TestBuildRequestToolResults(t *testing.T) {
	req := buildRequest(&core.Request{
		Model:  "gpt-5",
		System: "Be brief.",
		Messages: []core.Message{
			{Role: "user", Content: "look it up"},
			{Role: "assistant", ToolCalls: []core.ToolCall{{ID: "call_1", Name: "lookup", Arguments: map[string]any{"q": "x"}}}},
			{Role: "tool_result", ToolCallID: "call_1", Content: "42"},
		},
	})

	if req.Instructions != "Be brief." {
		t.Errorf("Instructions = %q", req.Instructions)
	}
	if len(req.Input) != 3 {
		t.Fatalf("len(Input) = %d, want 3", len(req.Input))
	}
	if req.Input[1].Type != "function_call" || req.Input[1].CallID != "call_1" {
		t.Errorf("Input[1] = %+v, want function_call", req.Input[1])
	}
	if req.Input[2].Type != "function_call_output" || req.Input[2].Output != "42" {
		t.Errorf("Input[2] = %+v, want function_call_output", req.Input[2])
	}
	if !req.Stream || req.Store {
		t.Errorf("Stream = %v, Store = %v; want true, false", req.Stream, req.Store)
	}
}
