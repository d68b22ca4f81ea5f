package models

import (
	"slices"
	"sync"
)

// Conversation is the in-memory, append-only history of one page view. Messages keep their
// insertion order, which is the turn order of the conversation. Nothing is ever removed or rewritten.
//
// The page view that owns a Conversation is its only writer, but snapshots may be taken from any
// goroutine while a reply is being committed.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation returns an empty Conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds message to the end of the conversation. The caller is responsible for rejecting empty user
// input before calling Append.
func (c *Conversation) Append(message Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

// Snapshot returns a copy of the ordered messages. Later appends do not affect a returned snapshot.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

// Len returns the number of messages appended so far.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
