package core

// StreamEvent is the closed set of events a normalized stream can emit.
// The variant set is sealed: only the types in this file implement it.
// Every stream ends with exactly one TurnCompleted.
type StreamEvent interface {
	streamEvent()
}

// TextFragment is an incremental piece of assistant text, emitted in
// backend order with no buffering beyond final assembly.
type TextFragment struct {
	Text string
}

// ToolCallStarted announces a tool call as soon as its id and name are
// known; arguments follow as fragments.
type ToolCallStarted struct {
	ID   string
	Name string
}

// ToolCallArgumentFragment is a raw piece of the arguments JSON for the
// identified tool call. Fragments are only valid JSON once concatenated.
type ToolCallArgumentFragment struct {
	ID       string
	Fragment string
}

// ToolCallCompleted carries the fully assembled tool call. If the
// accumulated arguments failed to parse, Arguments is an empty map rather
// than an error.
type ToolCallCompleted struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// TurnCompleted is the terminal event of every stream, carrying the
// assembled response with ordered tool calls, stop reason and usage.
type TurnCompleted struct {
	Response *Response
}

func (TextFragment) streamEvent()             {}
func (ToolCallStarted) streamEvent()          {}
func (ToolCallArgumentFragment) streamEvent() {}
func (ToolCallCompleted) streamEvent()        {}
func (TurnCompleted) streamEvent()            {}
