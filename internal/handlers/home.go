package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

// HandleLoadConversation switches the page view to conversationID. A blank identifier selects
// DefaultConversationID. Like navigating to a new page, the in-memory history starts empty.
func (m *Main) HandleLoadConversation(conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = DefaultConversationID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return ErrSendInProgress
	}

	m.conversationID = conversationID
	m.conversation = models.NewConversation()

	m.logger.Info("Conversation loaded", slog.String("conversationID", conversationID))
	return nil
}

// HandleNewConversation asks the creation service for a fresh identifier and loads it.
func (m *Main) HandleNewConversation(ctx context.Context) (string, error) {
	conversationID, err := m.creator.Create(ctx)
	if err != nil {
		m.logger.Error("Failed to create conversation", slog.String(errLoggerKey, err.Error()))
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := m.HandleLoadConversation(conversationID); err != nil {
		return "", err
	}
	return conversationID, nil
}

// HandleHistory draws every committed message of the current conversation again, in order.
// Like HandleSubmit it draws through the renderer, so it must be called from the same goroutine.
func (m *Main) HandleHistory() {
	for _, msg := range m.History() {
		m.renderer.AppendNewMessage(msg.Role, msg.Content)
	}
	m.renderer.ScrollToLatest()
}
