// Package render draws a conversation for the chat client. Terminal writes to a console or any other
// writer, HTML keeps a page of the conversation up to date, and Multi combines several renderers.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	ansiCursorUp  = "\x1b[%dA"
	ansiEraseDown = "\r\x1b[J"
)

// Terminal draws messages as labelled lines. On a terminal an assistant message in progress is erased
// and drawn again on every overwrite. On other writers, such as pipes and files, only the text that
// extends what was already written is appended, so the output stays readable.
type Terminal struct {
	w   io.Writer
	fd  uintptr
	tty bool

	userLabel      lipgloss.Style
	assistantLabel lipgloss.Style

	// last is the text of the bottom-most message, drawn without a trailing newline.
	last     string
	lastRole models.Role
	hasLast  bool
}

// NewTerminal creates a Terminal writing to w. Redrawing in place is enabled when w is a terminal.
func NewTerminal(w io.Writer) *Terminal {
	t := &Terminal{
		w:              w,
		userLabel:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistantLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		t.fd = f.Fd()
		t.tty = true
	}
	return t
}

func (t *Terminal) label(role models.Role) string {
	if role == models.RoleUser {
		return t.userLabel.Render("User:") + " "
	}
	return t.assistantLabel.Render("Bot:") + " "
}

// AppendNewMessage starts a new labelled message below the previous one.
func (t *Terminal) AppendNewMessage(role models.Role, text string) {
	if t.hasLast {
		fmt.Fprint(t.w, "\n")
	}
	fmt.Fprint(t.w, t.label(role)+text)

	t.last = text
	t.lastRole = role
	t.hasLast = true
}

// OverwriteLastAssistantMessage replaces the text of the bottom-most assistant message. If the
// bottom-most message is not an assistant message a new one is started.
func (t *Terminal) OverwriteLastAssistantMessage(text string) {
	if !t.hasLast || t.lastRole != models.RoleAssistant {
		t.AppendNewMessage(models.RoleAssistant, text)
		return
	}

	switch {
	case t.tty:
		t.erase(t.label(models.RoleAssistant) + t.last)
		fmt.Fprint(t.w, t.label(models.RoleAssistant)+text)
	case strings.HasPrefix(text, t.last):
		fmt.Fprint(t.w, text[len(t.last):])
	default:
		fmt.Fprint(t.w, "\n"+t.label(models.RoleAssistant)+text)
	}
	t.last = text
}

// ScrollToLatest flushes buffered output, if the writer buffers. A console always shows its latest line.
func (t *Terminal) ScrollToLatest() {
	if f, ok := t.w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// Break ends the bottom-most message so that following output starts on a fresh line.
func (t *Terminal) Break() {
	if t.hasLast {
		fmt.Fprint(t.w, "\n")
	}
	t.last = ""
	t.lastRole = ""
	t.hasLast = false
	t.ScrollToLatest()
}

// erase moves the cursor back to the first row of drawn and clears everything below it.
func (t *Terminal) erase(drawn string) {
	if rows := t.rows(drawn); rows > 1 {
		fmt.Fprintf(t.w, ansiCursorUp, rows-1)
	}
	fmt.Fprint(t.w, ansiEraseDown)
}

// rows counts the screen rows s occupies, taking line wrapping into account when the width is known.
func (t *Terminal) rows(s string) int {
	width, _, err := term.GetSize(int(t.fd))
	if err != nil || width <= 0 {
		width = 0
	}

	rows := 0
	for _, line := range strings.Split(s, "\n") {
		w := lipgloss.Width(line)
		if width == 0 || w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}
