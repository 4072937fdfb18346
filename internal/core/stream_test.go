package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCloseReleasesOnce(t *testing.T) {
	releases := 0
	s := NewStream(func() { releases++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 1, releases)
}

func TestStreamEmitAfterClose(t *testing.T) {
	s := NewStream(nil)

	assert.True(t, s.Emit(TextFragment{Text: "hi"}))
	require.NoError(t, s.Close())
	assert.False(t, s.Emit(TextFragment{Text: "dropped"}))
}

func TestStreamAbandonUnblocksProducer(t *testing.T) {
	released := make(chan struct{})
	s := NewStream(func() { close(released) })

	// Fill the buffer so the producer would block on the next Emit.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for s.Emit(TextFragment{Text: "x"}) {
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("connection not released on Close")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Close")
	}
}

func TestCollectReturnsFinalResponse(t *testing.T) {
	s := NewStream(nil)
	go func() {
		s.Emit(TextFragment{Text: "Hello"})
		s.Emit(TextFragment{Text: " world"})
		s.Emit(TurnCompleted{Response: &Response{Content: "Hello world", StopReason: "stop"}})
		s.CloseSend()
	}()

	resp, err := Collect(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestCollectContextExpiry(t *testing.T) {
	released := make(chan struct{})
	s := NewStream(func() { close(released) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Collect(ctx, s)
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrorTypeTimeout, gwErr.Type)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("connection not released after context expiry")
	}
}

func TestCollectStreamFailure(t *testing.T) {
	s := NewStream(nil)
	s.Fail(NewBackendError("anthropic", 500, "overloaded", nil))
	s.CloseSend()

	_, err := Collect(context.Background(), s)
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrorTypeBackend, gwErr.Type)
	assert.Equal(t, "anthropic", gwErr.Backend)
}

func TestCollectTruncatedStream(t *testing.T) {
	s := NewStream(nil)
	go func() {
		s.Emit(TextFragment{Text: "partial"})
		s.CloseSend()
	}()

	_, err := Collect(context.Background(), s)
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrorTypeProtocol, gwErr.Type)
}

func TestStreamFailFirstErrorWins(t *testing.T) {
	s := NewStream(nil)
	first := NewBackendError("codex", 500, "first", nil)
	s.Fail(first)
	s.Fail(NewBackendError("codex", 500, "second", nil))

	assert.Same(t, first, s.Err())
}
