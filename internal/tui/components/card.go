// Package components provides the widgets shared by the browser tabs.
package components

import (
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// Metric is one headline number rendered as a small card.
type Metric struct {
	Label string
	Value string
	Note  string
}

// LayoutRow splits total into n widths summing exactly to total. The
// remainder goes to the leftmost items.
func LayoutRow(total, n int) []int {
	if n <= 0 {
		return nil
	}
	widths := make([]int, n)
	for i := range widths {
		widths[i] = total / n
		if i < total%n {
			widths[i]++
		}
	}
	return widths
}

func cardStyle(outer int, border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		BorderBackground(theme.Active.Background).
		Background(theme.Active.Surface).
		Width(max(outer-2, 10)).
		Padding(0, 1)
}

// MetricCard renders a label, a bold value and an optional note.
func MetricCard(m Metric, outer int) string {
	t := theme.Active
	label := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface).Bold(true)
	note := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	body := label.Render(m.Label) + "\n" + value.Render(m.Value)
	if m.Note != "" {
		body += "\n" + note.Render(m.Note)
	}
	return cardStyle(outer, t.Border).Render(body)
}

// MetricRow renders metrics side by side across total columns.
func MetricRow(metrics []Metric, total int) string {
	if len(metrics) == 0 {
		return ""
	}
	widths := LayoutRow(total, len(metrics))
	cards := make([]string, len(metrics))
	for i, m := range metrics {
		cards[i] = MetricCard(m, widths[i])
	}
	return CardRow(cards)
}

// ContentCard renders body in a bordered card with an optional title.
func ContentCard(title, body string, outer int) string {
	t := theme.Active
	content := body
	if title != "" {
		titleStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface).Bold(true)
		content = titleStyle.Render(title) + "\n" + body
	}
	return cardStyle(outer, t.Border).Render(content)
}

// CardRow joins rendered cards horizontally. Shorter cards are padded with
// the background color so the row has no unstyled gaps.
func CardRow(cards []string) string {
	if len(cards) == 0 {
		return ""
	}
	height := 0
	for _, c := range cards {
		height = max(height, lipgloss.Height(c))
	}
	padded := make([]string, len(cards))
	for i, c := range cards {
		padded[i] = lipgloss.Place(lipgloss.Width(c), height, lipgloss.Left, lipgloss.Top, c,
			lipgloss.WithWhitespaceBackground(theme.Active.Background))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, padded...)
}

// CardInnerWidth is the text width inside a card of the given outer width.
func CardInnerWidth(outer int) int {
	return max(outer-4, 10)
}
