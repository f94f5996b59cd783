// ABOUTME: Backend interface and typed event model for the external agent.
// ABOUTME: A turn is a request plus an asynchronous stream of typed events.

package agent

import "context"

// EventType indicates the type of a streamed agent event.
type EventType int

const (
	// EventInit is emitted once near the start of a turn and usually
	// carries the session token for resuming the conversation.
	EventInit EventType = iota
	// EventText carries an assistant text delta.
	EventText
	// EventResult is the terminal event of a successful turn. It may carry
	// the full response text and a session token.
	EventResult
	// EventError is the terminal event of a failed turn.
	EventError
)

// Event is one element of the agent's response stream. Any event type may
// carry a SessionID; the most recent non-empty one wins, with a token on
// the terminal result preferred over interim ones.
type Event struct {
	Type      EventType
	Text      string // delta for EventText, full response for EventResult
	SessionID string
	Error     string // for EventError
}

// Request describes one agent turn.
type Request struct {
	Prompt       string
	SessionToken string   // empty on the first turn of a conversation
	Tools        []string // capability allow-list passed to the backend
}

// Backend is the external agent contract: one request in, a stream of
// typed events out. The returned channel is closed after the terminal
// event (EventResult or EventError).
type Backend interface {
	Invoke(ctx context.Context, req *Request) (<-chan *Event, error)
}
