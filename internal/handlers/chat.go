package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

// HandleSubmit processes a line typed by the user and streams the assistant reply for it.
//
// Blank input is ignored without opening a channel. Otherwise the user message is appended to the
// conversation and drawn, a channel is opened with the conversation identifier and a snapshot of the
// history, and the reply is streamed by a Session until it is done or fails. Only one submit may be in
// flight at a time; a concurrent call returns ErrSendInProgress and changes nothing.
//
// The returned error is nil when the reply was committed. Transport failures are returned after the
// session has been closed; the conversation then holds the user message but no assistant message.
func (m *Main) HandleSubmit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	conversationID, conversation, err := m.acquire()
	if err != nil {
		m.logger.Warn("Submit rejected", slog.String(errLoggerKey, err.Error()))
		return err
	}
	defer m.release()

	conversation.Append(models.Message{
		Role:    models.RoleUser,
		Content: text,
	})
	m.renderer.AppendNewMessage(models.RoleUser, text)
	m.renderer.ScrollToLatest()

	history := conversation.Snapshot()

	channel, err := m.opener.Open(ctx, conversationID, history)
	if err != nil {
		m.logger.Error("Failed to open channel",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to open channel: %w", err)
	}

	sess := NewSession(conversationID, channel, conversation, m.renderer, m.logger)
	m.logger.Debug("Session opened",
		slog.String("session", sess.ID()),
		slog.Int("history", len(history)))

	if err := sess.Run(ctx); err != nil {
		return fmt.Errorf("reply failed: %w", err)
	}
	return nil
}
