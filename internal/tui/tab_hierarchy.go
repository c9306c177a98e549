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

// masterOf returns the master of kpi and whether it has one.
func masterOf(links []model.SubLink, kpi int64) (int64, bool) {
	for _, l := range links {
		if l.SubID == kpi {
			return l.MasterID, true
		}
	}
	return 0, false
}

// subsOf returns the links under master in stored order.
func subsOf(links []model.SubLink, master int64) []model.SubLink {
	var out []model.SubLink
	for _, l := range links {
		if l.MasterID == master {
			out = append(out, l)
		}
	}
	return out
}

func (a App) targetByKPI(id int64) (model.AnnualTarget, bool) {
	for _, at := range a.snap.Targets {
		if at.KPIID == id {
			return at, true
		}
	}
	return model.AnnualTarget{}, false
}

func (a App) renderHierarchyTab(cw int) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)

	at, ok := a.selected()
	if !ok {
		return components.ContentCard("Hierarchy", muted.Render("Select a target on the Targets tab."), cw)
	}

	master := at.KPIID
	if m, isSub := masterOf(a.snap.Links, at.KPIID); isSub {
		master = m
	}
	subs := subsOf(a.snap.Links, master)
	if len(subs) == 0 {
		return components.ContentCard("Hierarchy",
			muted.Render(fmt.Sprintf("%s is not part of a master/sub hierarchy.", a.kpiName(at.KPIID))), cw)
	}

	mt, _ := a.targetByKPI(master)
	widths := []int{cw, cw}
	if !a.isCompactLayout() {
		widths = components.LayoutRow(cw, 2)
	}
	innerW := components.CardInnerWidth(widths[0])
	labelW := min(max(innerW/3, 12), 32)
	barW := max(innerW-labelW-7, 10)

	var cards []string
	for i, slot := range model.Slots {
		mv := mt.Slot(slot).Value

		var body strings.Builder
		body.WriteString(muted.Render("Master  ") + value.Render(a.kpiName(master)+"  "+cli.FormatSlot(mv)))
		body.WriteString("\n")

		var weights float64
		for _, l := range subs {
			weights += l.Weight
		}
		for _, l := range subs {
			st, _ := a.targetByKPI(l.SubID)
			sv := st.Slot(slot)
			share := 0.0
			if mv != nil && *mv != 0 && sv.Value != nil {
				share = *sv.Value / *mv
			}
			label := truncStr(fmt.Sprintf("%s %s", a.kpiName(l.SubID), slotFlag(*sv)), labelW)
			body.WriteString("\n")
			body.WriteString(components.ShareBar(label, share, labelW, barW))
			body.WriteString("\n")
			note := fmt.Sprintf("%*s weight %s · %s", labelW, "", cli.FormatValue(l.Weight), cli.FormatSlot(sv.Value))
			if weights > 0 {
				note += fmt.Sprintf(" · %s of weights", cli.FormatPercent(l.Weight/weights))
			}
			body.WriteString(muted.Render(truncStr(note, innerW)))
		}
		cards = append(cards, components.ContentCard(fmt.Sprintf("Slot %d", slot), body.String(), widths[i]))
	}

	if a.isCompactLayout() {
		return strings.Join(cards, "\n")
	}
	return components.CardRow(cards)
}
