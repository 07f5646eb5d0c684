package storage

import "time"

// Event is one completed message cycle: what the user said, what was answered and which
// tools ran. Events are appended in chronological order.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	ChatID            string    `json:"chat_id"`
	UserID            string    `json:"user_id,omitempty"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	ToolCalls         []string  `json:"tool_calls,omitempty"`
	// ErrorKind is set when the cycle ended with an apology.
	ErrorKind string `json:"error_kind,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// LoadInteractions returns events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
