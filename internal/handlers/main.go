package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

// Channel is an open, receive-only push channel. Events are delivered in transport order until the
// channel is closed. Close stops the underlying transport and may be called more than once.
type Channel interface {
	Events() <-chan models.Event
	Close() error
}

// ChannelOpener opens a push channel for one exchange, parameterized by the conversation identifier and
// the conversation history so far.
type ChannelOpener interface {
	Open(ctx context.Context, conversationID string, history []models.Message) (Channel, error)
}

// ConversationCreator allocates a fresh conversation identifier out of band.
type ConversationCreator interface {
	Create(ctx context.Context) (string, error)
}

// Renderer draws the conversation. Assistant replies in progress are drawn with AppendNewMessage on the
// first fragment and OverwriteLastAssistantMessage afterwards, always with the full text so far.
type Renderer interface {
	AppendNewMessage(role models.Role, text string)
	OverwriteLastAssistantMessage(text string)
	ScrollToLatest()
}

// DefaultConversationID is used when no conversation identifier is supplied.
const DefaultConversationID = "1"

const errLoggerKey = "err"

// ErrSendInProgress is returned when an action needs the page view to be idle while a session is open.
var ErrSendInProgress = errors.New("a reply is still streaming")

// Main owns one page view: the conversation identifier, the in-memory conversation, and the single
// in-flight session. It turns user actions into sessions and wires them to the renderer.
//
// mu guards the conversation identifier, the in-flight flag and which conversation is current. The
// conversation itself synchronizes its own appends, so History may be called while a reply streams.
type Main struct {
	opener   ChannelOpener
	creator  ConversationCreator
	renderer Renderer

	mu             sync.Mutex
	conversationID string
	conversation   *models.Conversation
	inFlight       bool

	logger *slog.Logger
}

// NewMain creates a page view for the default conversation with an empty history.
func NewMain(opener ChannelOpener, creator ConversationCreator, renderer Renderer, logger *slog.Logger) *Main {
	return &Main{
		opener:         opener,
		creator:        creator,
		renderer:       renderer,
		conversationID: DefaultConversationID,
		conversation:   models.NewConversation(),
		logger:         logger.With(slog.String("module", "main")),
	}
}

// ConversationID returns the identifier the next session is opened with.
func (m *Main) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// History returns a snapshot of the current conversation.
func (m *Main) History() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversation.Snapshot()
}

// acquire marks the page view busy. It fails if a session is already open.
func (m *Main) acquire() (string, *models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return "", nil, ErrSendInProgress
	}
	m.inFlight = true
	return m.conversationID, m.conversation, nil
}

func (m *Main) release() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
}
