// Package session persists conversation history. Conversations are
// append-only; messages are stored as opaque JSON and never rewritten.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/core"
)

// ErrNotFound is returned for a session id the store has never seen.
var ErrNotFound = errors.New("session not found")

// Info summarizes one stored session.
type Info struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists conversations. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds one message to a session, creating it on first use.
	Append(ctx context.Context, sessionID string, msg core.Message) error

	// Messages returns a session's messages in append order.
	Messages(ctx context.Context, sessionID string) ([]core.Message, error)

	// List returns summaries of all sessions, most recently updated first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a session and its messages.
	Delete(ctx context.Context, sessionID string) error

	Close() error
}

// NewID mints a session id.
func NewID() string {
	return uuid.NewString()
}
