package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/tui/components"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// settingsState reports the outcome of the last settings form.
type settingsState struct {
	saved   bool
	saveErr error
}

func (a App) renderSettingsTab(cw int) string {
	t := theme.Active
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	label := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)

	year := "newest stored"
	if cfg.General.Year != 0 {
		year = strconv.Itoa(cfg.General.Year)
	}
	fields := []struct{ name, val string }{
		{"Target store", cfg.DBPath()},
		{"Default year", year},
		{"Default location", strconv.FormatInt(cfg.General.Location, 10)},
		{"Theme", cfg.Appearance.Theme},
		{"Log level", cfg.Log.Level},
		{"Daemon address", cfg.Daemon.Addr},
		{"Formula passes", fmt.Sprintf("+%d", cfg.Engine.FormulaExtraPasses)},
		{"Weekend factor", cli.FormatValue(cfg.Engine.WeekendFactor)},
	}

	var body strings.Builder
	for i, f := range fields {
		if i > 0 {
			body.WriteString("\n")
		}
		body.WriteString(label.Render(fmt.Sprintf("%-18s ", f.name+":")))
		body.WriteString(value.Render(truncStr(f.val, components.CardInnerWidth(cw)-19)))
	}

	switch {
	case err != nil:
		body.WriteString("\n\n")
		body.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface).
			Render("Config unreadable, showing defaults: " + err.Error()))
	case a.settings.saveErr != nil:
		body.WriteString("\n\n")
		body.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface).
			Render("Save failed: " + a.settings.saveErr.Error()))
	case a.settings.saved:
		body.WriteString("\n\n")
		body.WriteString(lipgloss.NewStyle().Foreground(t.Green).Background(t.Surface).
			Render("Saved. Store and scope changes apply on next launch."))
	}
	body.WriteString("\n\n")
	body.WriteString(label.Render("[Enter] edit"))

	var info strings.Builder
	info.WriteString(label.Render("Config file:  ") + value.Render(config.Path()) + "\n")
	info.WriteString(label.Render("Partitions:   ") + value.Render(cli.FormatCount(int64(len(a.snap.Partitions)))) + "\n")
	info.WriteString(label.Render("KPIs:         ") + value.Render(cli.FormatCount(int64(len(a.snap.KPIs)))) + "\n")
	info.WriteString(label.Render("Load time:    ") + value.Render(cli.FormatDuration(a.loadTime)))

	return components.ContentCard("Settings", body.String(), cw) + "\n" +
		components.ContentCard("Store", info.String(), cw)
}
