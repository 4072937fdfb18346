// Package sse reads server-sent event streams. It handles the subset the
// upstream APIs emit: "event:" and "data:" fields separated by blank
// lines; comments and other fields are ignored.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one server-sent event. Name is empty when the stream only
// uses data lines, as the chat-completions dialect does.
type Event struct {
	Name string
	Data []byte
}

// Scanner yields events from a stream one at a time.
type Scanner struct {
	reader *bufio.Reader
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the stream ends. Multiple
// data lines within one event are joined with newlines per the SSE spec.
func (s *Scanner) Next() (*Event, error) {
	var ev Event
	var data [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && (len(data) > 0 || ev.Name != "") {
				ev.Data = bytes.Join(data, []byte("\n"))
				return &ev, nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 || ev.Name != "" {
				ev.Data = bytes.Join(data, []byte("\n"))
				return &ev, nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Name = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("event:"))))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))))
		case bytes.HasPrefix(line, []byte(":")):
			// comment, keep-alive
		}
	}
}
