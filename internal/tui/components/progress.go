package components

import (
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// ProgressBar renders a solid bar with a percentage, for the loading screen.
func ProgressBar(pct float64, width int) string {
	t := theme.Active
	pct = min(max(pct, 0), 1)

	bar := progress.New(
		progress.WithSolidFill(string(t.Accent)),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	pctStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	space := lipgloss.NewStyle().Background(t.Surface).Render(" ")
	return bar.ViewAs(pct) + space + pctStyle.Render(fmt.Sprintf("%.0f%%", pct*100))
}

// ShareBar renders a sub-KPI's share of its master as a bar colored by how
// much of the master it takes.
func ShareBar(label string, share float64, labelW, width int) string {
	t := theme.Active
	share = min(max(share, 0), 1)

	bar := progress.New(
		progress.WithSolidFill(ColorForShare(share)),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	pctStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorForShare(share))).Background(t.Surface).Bold(true)
	space := lipgloss.NewStyle().Background(t.Surface).Render(" ")
	return labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)) + space +
		bar.ViewAs(share) + space + pctStyle.Render(fmt.Sprintf("%3.0f%%", share*100))
}

// ColorForShare grades a 0-1 share from green to red.
func ColorForShare(share float64) string {
	t := theme.Active
	switch {
	case share >= 0.75:
		return string(t.Red)
	case share >= 0.5:
		return string(t.Orange)
	case share >= 0.25:
		return string(t.Yellow)
	default:
		return string(t.Green)
	}
}
