package sse

import (
	"io"
	"strings"
	"testing"
)

func TestScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "named events",
			input: "event: message_start\ndata: {\"a\":1}\n\nevent: message_stop\ndata: {}\n\n",
			want: []Event{
				{Name: "message_start", Data: []byte(`{"a":1}`)},
				{Name: "message_stop", Data: []byte(`{}`)},
			},
		},
		{
			name:  "data only",
			input: "data: one\n\ndata: [DONE]\n\n",
			want: []Event{
				{Data: []byte("one")},
				{Data: []byte("[DONE]")},
			},
		},
		{
			name:  "multiple data lines joined with newline",
			input: "data: first\ndata: second\n\n",
			want: []Event{
				{Data: []byte("first\nsecond")},
			},
		},
		{
			name:  "comments and blank lines skipped",
			input: ": keep-alive\n\n\ndata: payload\n\n",
			want: []Event{
				{Data: []byte("payload")},
			},
		},
		{
			name:  "crlf line endings",
			input: "event: ping\r\ndata: {}\r\n\r\n",
			want: []Event{
				{Name: "ping", Data: []byte("{}")},
			},
		},
		{
			name:  "final event flushed at eof without trailing blank line",
			input: "data: last\n",
			want: []Event{
				{Data: []byte("last")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewScanner(strings.NewReader(tt.input))
			var got []Event
			for {
				ev, err := sc.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				got = append(got, *ev)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, want := range tt.want {
				if got[i].Name != want.Name {
					t.Errorf("event %d name = %q, want %q", i, got[i].Name, want.Name)
				}
				if string(got[i].Data) != string(want.Data) {
					t.Errorf("event %d data = %q, want %q", i, got[i].Data, want.Data)
				}
			}
		})
	}
}

func TestScannerEmptyStream(t *testing.T) {
	sc := NewScanner(strings.NewReader(""))
	if _, err := sc.Next(); err != io.EOF {
		t.Fatalf("Next on empty stream = %v, want io.EOF", err)
	}
}
