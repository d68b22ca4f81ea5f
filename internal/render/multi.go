package render

import (
	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/models"
)

// Multi forwards every call to each of its renderers, in order.
type Multi []handlers.Renderer

// AppendNewMessage implements handlers.Renderer.
func (m Multi) AppendNewMessage(role models.Role, text string) {
	for _, r := range m {
		r.AppendNewMessage(role, text)
	}
}

// OverwriteLastAssistantMessage implements handlers.Renderer.
func (m Multi) OverwriteLastAssistantMessage(text string) {
	for _, r := range m {
		r.OverwriteLastAssistantMessage(text)
	}
}

// ScrollToLatest implements handlers.Renderer.
func (m Multi) ScrollToLatest() {
	for _, r := range m {
		r.ScrollToLatest()
	}
}
