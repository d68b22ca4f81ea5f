package models

import "fmt"

// Message represents an individual entry within a conversation. It carries the participant's role and
// the text content. A Message is never modified after it is appended to a Conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the person using the client.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant, committed once its stream is done.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// UnmarshalText rejects roles other than user and assistant.
func (r *Role) UnmarshalText(text []byte) error {
	role := Role(text)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}

// EventKind is the kind of an Event delivered by a push channel.
type EventKind int

const (
	// EventPartial carries a fragment of the assistant reply in Data.
	EventPartial EventKind = iota
	// EventDone is the terminal success signal. It carries no payload.
	EventDone
	// EventError is the terminal failure signal. Err holds the cause when one is known.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a transport-neutral event received from a push channel.
type Event struct {
	Kind EventKind
	Data string
	Err  error
}
