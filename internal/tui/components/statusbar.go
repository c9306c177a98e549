package components

import (
	"strings"

	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// RenderStatusBar renders the bottom line: key hints on the left, the
// current scope and data age on the right.
func RenderStatusBar(width int, scope, dataAge string, refreshing bool) string {
	t := theme.Active
	base := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	key := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)

	left := base.Render(" ") + key.Render("?") + base.Render(" help  ") +
		key.Render("[ ]") + base.Render(" scope  ") +
		key.Render("r") + base.Render(" refresh  ") +
		key.Render("q") + base.Render(" quit")

	var right string
	if refreshing {
		right = lipgloss.NewStyle().Foreground(t.Yellow).Background(t.Surface).Render("refreshing ")
	}
	right += base.Render(scope)
	if dataAge != "" {
		right += base.Render(" · " + dataAge)
	}
	right += base.Render(" ")

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return left + base.Render(strings.Repeat(" ", gap)) + right
}
