package tui

import (
	"fmt"
	"strings"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/tui/components"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// targetStats summarizes the annual targets of one scope.
type targetStats struct {
	targets  int
	slotsSet int
	formulas int
	manual   int
	phased   int // logic other than Annual
}

func summarizeTargets(ts []model.AnnualTarget) targetStats {
	var s targetStats
	s.targets = len(ts)
	for _, at := range ts {
		for _, d := range at.Slots {
			if d.HasValue() {
				s.slotsSet++
			}
			if d.Formula {
				s.formulas++
			}
			if d.Manual {
				s.manual++
			}
		}
		if at.Logic != model.LogicAnnual {
			s.phased++
		}
	}
	return s
}

// slotFlag marks how a slot got its value: M manual, F formula, D derived.
func slotFlag(d model.SlotDefinition) string {
	switch {
	case d.Formula:
		return "F"
	case d.Manual:
		return "M"
	case d.HasValue():
		return "D"
	}
	return " "
}

func (a App) renderTargetsTab(cw, h int) string {
	t := theme.Active
	stats := summarizeTargets(a.snap.Targets)

	unresolved := "0"
	lastSave := "no saves yet"
	if len(a.snap.Runs) > 0 {
		last := a.snap.Runs[0]
		unresolved = cli.FormatCount(int64(len(last.Unresolved)))
		lastSave = "last save " + cli.FormatAgo(last.StartedAt)
	}

	var b strings.Builder
	b.WriteString(components.MetricRow([]components.Metric{
		{Label: "Targets", Value: cli.FormatCount(int64(stats.targets)), Note: fmt.Sprintf("%d phased", stats.phased)},
		{Label: "Slots set", Value: cli.FormatCount(int64(stats.slotsSet)), Note: fmt.Sprintf("of %d", stats.targets*2)},
		{Label: "Formulas", Value: cli.FormatCount(int64(stats.formulas)), Note: fmt.Sprintf("%d manual", stats.manual)},
		{Label: "Unresolved", Value: unresolved, Note: lastSave},
	}, cw))
	b.WriteString("\n")

	if len(a.snap.Targets) == 0 {
		b.WriteString(components.ContentCard("Annual targets",
			lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface).
				Render(fmt.Sprintf("No targets stored for %s. Save a submission with `kpitarget save`.", a.scopeLabel())),
			cw))
		return b.String()
	}

	innerW := components.CardInnerWidth(cw)
	compact := a.isCompactLayout()
	nameW := max(innerW-72, 12)
	if compact {
		nameW = max(innerW-50, 10)
	}

	header := fmt.Sprintf("%6s  %-*s  %-11s %-8s %14s %14s", "KPI", nameW, "Name", "Kind", "Logic", "Slot 1", "Slot 2")
	if !compact {
		header += fmt.Sprintf("  %-22s", "Profile")
	}

	headStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	selStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.SurfaceHover).Bold(true)

	// Room left after metric cards, card border and header.
	rows := max(h-lipgloss.Height(b.String())-4, 3)
	start := windowStart(a.cursor, rows, len(a.snap.Targets))
	end := min(start+rows, len(a.snap.Targets))

	var body strings.Builder
	body.WriteString(headStyle.Render(truncStr(header, innerW)))
	for i := start; i < end; i++ {
		at := a.snap.Targets[i]
		kind := model.Incremental
		if k, ok := a.snap.KPIs[at.KPIID]; ok && k.Kind != "" {
			kind = k.Kind
		}
		line := fmt.Sprintf("%6d  %-*s  %-11s %-8s %12s %s %12s %s",
			at.KPIID, nameW, truncStr(a.kpiName(at.KPIID), nameW), kind, at.Logic,
			cli.FormatSlot(at.Slots[0].Value), slotFlag(at.Slots[0]),
			cli.FormatSlot(at.Slots[1].Value), slotFlag(at.Slots[1]))
		if !compact {
			line += "  " + truncStr(string(at.Profile), 22)
		}
		line = padRight(truncStr(line, innerW), innerW)

		body.WriteString("\n")
		if i == a.cursor {
			body.WriteString(selStyle.Render(line))
		} else {
			body.WriteString(rowStyle.Render(line))
		}
	}

	title := fmt.Sprintf("Annual targets (%d/%d)", a.cursor+1, len(a.snap.Targets))
	b.WriteString(components.ContentCard(title, body.String(), cw))
	return b.String()
}

func padRight(s string, w int) string {
	if gap := w - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
