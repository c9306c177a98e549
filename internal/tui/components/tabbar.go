package components

import (
	"strings"

	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// Tab is one entry of the tab bar.
type Tab struct {
	Name   string
	Key    rune
	KeyPos int // index of Key in Name, -1 when the key is not part of it
}

// Tabs lists the browser tabs in order.
var Tabs = []Tab{
	{Name: "Targets", Key: 't', KeyPos: 0},
	{Name: "Series", Key: 's', KeyPos: 0},
	{Name: "Hierarchy", Key: 'h', KeyPos: 0},
	{Name: "Runs", Key: 'u', KeyPos: 1},
	{Name: "Settings", Key: 'x', KeyPos: -1},
}

// TabIndex returns the tab bound to key, or -1.
func TabIndex(key string) int {
	for i, tab := range Tabs {
		if key == string(tab.Key) {
			return i
		}
	}
	return -1
}

// TabVisualWidth is the rendered width of a tab, padding included.
func TabVisualWidth(tab Tab, active bool) int {
	return lipgloss.Width(renderTab(tab, active))
}

func renderTab(tab Tab, active bool) string {
	t := theme.Active
	if active {
		return lipgloss.NewStyle().
			Foreground(t.AccentBright).
			Background(t.SurfaceHover).
			Bold(true).
			Padding(0, 1).
			Render(tab.Name)
	}

	name := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	key := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	pad := name.Render(" ")

	if tab.KeyPos >= 0 && tab.KeyPos < len(tab.Name) {
		return pad + name.Render(tab.Name[:tab.KeyPos]) +
			key.Render(tab.Name[tab.KeyPos:tab.KeyPos+1]) +
			name.Render(tab.Name[tab.KeyPos+1:]) + pad
	}
	return pad + name.Render(tab.Name) +
		dim.Render("[") + key.Render(string(tab.Key)) + dim.Render("]") + pad
}

// RenderTabBar renders one line of tabs separated by a single column,
// filled to width.
func RenderTabBar(active, width int) string {
	t := theme.Active
	sep := lipgloss.NewStyle().Foreground(t.Border).Background(t.Surface).Render("│")

	parts := make([]string, len(Tabs))
	for i, tab := range Tabs {
		parts[i] = renderTab(tab, i == active)
	}
	line := strings.Join(parts, sep)
	return lipgloss.NewStyle().Background(t.Surface).Width(width).Render(line)
}
