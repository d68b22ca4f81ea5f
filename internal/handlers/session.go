package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/google/uuid"
)

// SessionStatus is the state of a streaming Session.
type SessionStatus int

const (
	// StatusOpen is the state of a session whose channel is still delivering events.
	StatusOpen SessionStatus = iota
	// StatusDone is the terminal success state. The assistant message has been committed.
	StatusDone
	// StatusErrored is the terminal failure state. Nothing has been committed.
	StatusErrored
)

func (s SessionStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusDone:
		return "done"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("SessionStatus(%d)", int(s))
	}
}

// ErrChannelClosed is reported when a channel stops delivering events before a terminal signal.
var ErrChannelClosed = errors.New("channel closed without a terminal event")

// Session drives a single exchange over a push channel. Partial events grow the buffer and are rendered
// as they arrive; the done event commits the buffer to the conversation as one assistant message; an
// error event ends the session without touching the conversation.
//
// All transitions happen on the goroutine that calls Run, so a Session needs no locking.
type Session struct {
	id             string
	conversationID string

	buffer strings.Builder
	status SessionStatus
	err    error

	hasRenderedAssistantNode bool

	channel  Channel
	store    *models.Conversation
	renderer Renderer

	logger *slog.Logger
}

// NewSession wraps an already opened channel. Finalized replies are appended to store and progress
// is drawn through renderer.
func NewSession(
	conversationID string,
	channel Channel,
	store *models.Conversation,
	renderer Renderer,
	logger *slog.Logger,
) *Session {
	id := uuid.NewString()
	return &Session{
		id:             id,
		conversationID: conversationID,
		status:         StatusOpen,
		channel:        channel,
		store:          store,
		renderer:       renderer,
		logger: logger.With(
			slog.String("session", id),
			slog.String("conversationID", conversationID),
		),
	}
}

// ID returns the identifier used for this session in logs.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current state of the session.
func (s *Session) Status() SessionStatus {
	return s.status
}

// Buffer returns the assistant text accumulated so far.
func (s *Session) Buffer() string {
	return s.buffer.String()
}

// Err returns the failure cause of an errored session.
func (s *Session) Err() error {
	return s.err
}

// Run consumes channel events until the session reaches a terminal state. It returns nil when the
// session is done and the failure cause when it errored. Cancelling ctx errors the session.
func (s *Session) Run(ctx context.Context) error {
	events := s.channel.Events()
	for s.status == StatusOpen {
		select {
		case <-ctx.Done():
			s.HandleError(fmt.Errorf("session aborted: %w", ctx.Err()))
		case ev, ok := <-events:
			if !ok {
				s.HandleError(ErrChannelClosed)
				continue
			}
			s.HandleEvent(ev)
		}
	}
	return s.err
}

// HandleEvent dispatches ev to the transition for its kind.
func (s *Session) HandleEvent(ev models.Event) {
	switch ev.Kind {
	case models.EventPartial:
		s.HandlePartial(ev.Data)
	case models.EventDone:
		s.HandleDone()
	case models.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("transport error")
		}
		s.HandleError(err)
	default:
		s.HandleError(fmt.Errorf("unknown event kind %s", ev.Kind))
	}
}

// HandlePartial appends text verbatim to the buffer and renders the whole buffer.
func (s *Session) HandlePartial(text string) {
	if s.status != StatusOpen {
		s.logger.Debug("Dropping partial event after termination", slog.String("status", s.status.String()))
		return
	}

	s.buffer.WriteString(text)
	s.render(s.buffer.String())
}

// HandleDone closes the channel, then commits the buffer as an assistant message. Only the first done
// event of an open session has any effect.
func (s *Session) HandleDone() {
	if s.status != StatusOpen {
		s.logger.Debug("Dropping done event after termination", slog.String("status", s.status.String()))
		return
	}
	s.status = StatusDone

	if err := s.channel.Close(); err != nil {
		s.logger.Warn("Failed to close channel", slog.String(errLoggerKey, err.Error()))
	}

	s.store.Append(models.Message{
		Role:    models.RoleAssistant,
		Content: s.buffer.String(),
	})

	s.logger.Debug("Session done", slog.Int("length", s.buffer.Len()))
}

// HandleError closes the channel and ends the session without committing anything. Text already
// rendered stays where it is.
func (s *Session) HandleError(err error) {
	if s.status != StatusOpen {
		s.logger.Debug("Dropping error event after termination", slog.String("status", s.status.String()))
		return
	}
	s.status = StatusErrored
	s.err = err

	if cerr := s.channel.Close(); cerr != nil {
		s.logger.Warn("Failed to close channel", slog.String(errLoggerKey, cerr.Error()))
	}

	s.logger.Error("Session failed",
		slog.Int("discarded", s.buffer.Len()),
		slog.String(errLoggerKey, err.Error()))
}

func (s *Session) render(text string) {
	if !s.hasRenderedAssistantNode {
		s.renderer.AppendNewMessage(models.RoleAssistant, text)
		s.hasRenderedAssistantNode = true
	} else {
		s.renderer.OverwriteLastAssistantMessage(text)
	}
	s.renderer.ScrollToLatest()
}
