package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	streamchat "github.com/MegaGrindStone/streamchat"
	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

const errLoggerKey = "err"

// HTML keeps the conversation as a list of message nodes and renders them as a standalone page.
// Assistant text is treated as Markdown; user text is escaped.
//
// When a path is set, the page is rewritten every time ScrollToLatest is called, so a browser pointed
// at the file follows the conversation.
type HTML struct {
	templates *template.Template
	markdown  goldmark.Markdown

	conversationID string
	nodes          []htmlNode

	path    string
	refresh int

	logger *slog.Logger
}

type htmlNode struct {
	Role models.Role
	Text string
}

type htmlMessage struct {
	Role string
	Text string
	HTML template.HTML
}

type htmlPageData struct {
	ConversationID string
	Refresh        int
	Messages       []htmlMessage
}

// NewHTML creates an HTML renderer. If path is not empty the page is written there; refresh is the
// reload interval in seconds written into the page.
func NewHTML(path string, refresh int, logger *slog.Logger) (*HTML, error) {
	tmpl, err := template.ParseFS(streamchat.TemplateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if refresh <= 0 {
		refresh = 2
	}

	return &HTML{
		templates: tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
		),
		path:    path,
		refresh: refresh,
		logger:  logger.With(slog.String("module", "html")),
	}, nil
}

// Reset drops every node and labels the page with conversationID.
func (h *HTML) Reset(conversationID string) {
	h.conversationID = conversationID
	h.nodes = nil
}

// AppendNewMessage adds a message node at the bottom of the page.
func (h *HTML) AppendNewMessage(role models.Role, text string) {
	h.nodes = append(h.nodes, htmlNode{Role: role, Text: text})
}

// OverwriteLastAssistantMessage replaces the text of the bottom node when it is an assistant message,
// and adds a new assistant node otherwise.
func (h *HTML) OverwriteLastAssistantMessage(text string) {
	if n := len(h.nodes); n > 0 && h.nodes[n-1].Role == models.RoleAssistant {
		h.nodes[n-1].Text = text
		return
	}
	h.AppendNewMessage(models.RoleAssistant, text)
}

// ScrollToLatest writes the page to the configured path.
func (h *HTML) ScrollToLatest() {
	if h.path == "" {
		return
	}
	if err := h.writeFile(); err != nil {
		h.logger.Error("Failed to write page",
			slog.String("path", h.path),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Render executes the page template for the current nodes.
func (h *HTML) Render(w io.Writer) error {
	data := htmlPageData{
		ConversationID: h.conversationID,
		Refresh:        h.refresh,
		Messages:       make([]htmlMessage, len(h.nodes)),
	}
	for i, n := range h.nodes {
		msg := htmlMessage{Role: string(n.Role), Text: n.Text}
		if n.Role == models.RoleAssistant {
			rendered, err := h.renderMarkdown(n.Text)
			if err != nil {
				return err
			}
			msg.HTML = rendered
		}
		data.Messages[i] = msg
	}

	if err := h.templates.ExecuteTemplate(w, "transcript.html", data); err != nil {
		return fmt.Errorf("failed to execute transcript template: %w", err)
	}
	return nil
}

func (h *HTML) renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	// goldmark escapes raw HTML unless the unsafe renderer option is set.
	return template.HTML(buf.String()), nil //nolint:gosec
}

// writeFile replaces the page atomically so readers never see a partial document.
func (h *HTML) writeFile() error {
	var buf bytes.Buffer
	if err := h.Render(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".streamchat-*.html")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return fmt.Errorf("failed to replace page: %w", err)
	}
	return nil
}
