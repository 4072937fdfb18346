package core

import "context"

// Backend is the common contract implemented once per dialect. Complete
// returns the final turn; backends without a unary mode drain their own
// stream internally. Stream returns a forward-only, non-restartable event
// sequence; abandoning it early must release the connection promptly.
type Backend interface {
	// Name returns the backend id used in routing and error attribution.
	Name() string

	// Complete executes one turn and returns the assembled response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream executes one turn, emitting unified events as they arrive.
	Stream(ctx context.Context, req *Request) (*Stream, error)
}
