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

func unresolvedIDs(us []model.Unresolved) []int64 {
	ids := make([]int64, 0, len(us))
	for _, u := range us {
		ids = append(ids, u.KPIID)
	}
	return ids
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a App) renderRunsTab(cw, h int) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	runs := a.snap.Runs
	if len(runs) == 0 {
		return components.ContentCard("Save runs",
			muted.Render(fmt.Sprintf("No saves recorded for %s.", a.scopeLabel())), cw)
	}

	innerW := components.CardInnerWidth(cw)
	headStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	selStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.SurfaceHover).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface)

	listH := max(h/2-3, 3)
	start := windowStart(a.runCursor, listH, len(runs))
	end := min(start+listH, len(runs))

	var list strings.Builder
	list.WriteString(headStyle.Render(fmt.Sprintf("%-9s %-16s %9s %8s  %s", "Run", "Started", "Duration", "Changed", "Unresolved")))
	for i := start; i < end; i++ {
		r := runs[i]
		line := fmt.Sprintf("%-9s %-16s %9s %8d  %s",
			shortID(r.ID), cli.FormatAgo(r.StartedAt), cli.FormatDuration(r.Duration),
			len(r.Changed), cli.FormatIDs(unresolvedIDs(r.Unresolved), 6))
		line = padRight(truncStr(line, innerW), innerW)
		list.WriteString("\n")
		if i == a.runCursor {
			list.WriteString(selStyle.Render(line))
		} else {
			list.WriteString(rowStyle.Render(line))
		}
	}

	sel := runs[a.runCursor]
	var detail strings.Builder
	detail.WriteString(muted.Render("Run         ") + rowStyle.Render(sel.ID) + "\n")
	detail.WriteString(muted.Render("Started     ") + rowStyle.Render(sel.StartedAt.Local().Format("2006-01-02 15:04:05")) + "\n")
	detail.WriteString(muted.Render("Fingerprint ") + rowStyle.Render(sel.Fingerprint) + "\n")
	if sel.Initiator != nil {
		detail.WriteString(muted.Render("Initiator   ") + rowStyle.Render(fmt.Sprint(*sel.Initiator)) + "\n")
	}
	detail.WriteString(muted.Render("Changed     ") + rowStyle.Render(cli.FormatIDs(sel.Changed, 20)))
	for _, u := range sel.Unresolved {
		msg := fmt.Sprintf("KPI %d slot %d: %s", u.KPIID, u.Slot, u.Reason)
		if u.Detail != "" {
			msg += " (" + u.Detail + ")"
		}
		if len(u.Cycle) > 0 {
			msg += " cycle " + cli.FormatIDs(u.Cycle, 10)
		}
		detail.WriteString("\n")
		detail.WriteString(warnStyle.Render(truncStr(msg, innerW)))
	}

	var b strings.Builder
	b.WriteString(components.ContentCard(fmt.Sprintf("Save runs (%d)", len(runs)), list.String(), cw))
	b.WriteString("\n")
	b.WriteString(components.ContentCard("Run detail", detail.String(), cw))
	return b.String()
}
