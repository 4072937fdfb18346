package core

import (
	"context"
	"sync"
)

// Stream is a forward-only, non-restartable sequence of StreamEvents.
// Events arrive on Events() in backend-emission order; the channel is
// closed after the terminal TurnCompleted, or after a failure, in which
// case Err reports the typed error. Abandoning a stream early requires
// calling Close, which releases the underlying connection promptly.
type Stream struct {
	events  chan StreamEvent
	closed  chan struct{}
	once    sync.Once
	release func()

	mu  sync.Mutex
	err error
}

// NewStream creates a stream whose Close invokes release exactly once.
// release typically closes the underlying HTTP response body.
func NewStream(release func()) *Stream {
	return &Stream{
		events:  make(chan StreamEvent, 16),
		closed:  make(chan struct{}),
		release: release,
	}
}

// Events returns the event channel. It is closed when the stream ends,
// normally or not; check Err afterwards.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err reports the error that terminated the stream, if any. Only
// meaningful once Events() is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream and releases the underlying connection.
// Safe to call multiple times and concurrently with event delivery.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// Emit delivers ev to the consumer, preserving emission order. It returns
// false once the stream has been closed, signalling the producer to stop.
func (s *Stream) Emit(ev StreamEvent) bool {
	select {
	case <-s.closed:
		return false
	case s.events <- ev:
		return true
	}
}

// Fail records the error that terminated the stream. The first error wins;
// already-emitted events are not retracted.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// CloseSend is called by the producer when no further events will be
// emitted. It closes the event channel and releases the connection.
func (s *Stream) CloseSend() {
	close(s.events)
	_ = s.Close()
}

// Collect drives a stream to completion and returns the final response.
// If ctx expires first the stream is closed and a TimeoutError is
// returned. A stream that ends without a TurnCompleted yields its
// recorded error, or a protocol error if none was recorded.
func Collect(ctx context.Context, s *Stream) (*Response, error) {
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return nil, NewTimeoutError("stream collection", ctx.Err())
		case ev, ok := <-s.events:
			if !ok {
				if err := s.Err(); err != nil {
					return nil, err
				}
				return nil, NewBackendProtocolError("", "stream ended without a completed turn")
			}
			if done, isDone := ev.(TurnCompleted); isDone {
				return done.Response, nil
			}
		}
	}
}
