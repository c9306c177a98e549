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

// periodLabel shortens a stored period key for the chart axis.
// Days "2025-03-01" become "Mar" on the first of a month and the day
// number otherwise; weeks "2025-W07" become "W07"; months are abbreviated.
func periodLabel(g model.Granularity, key string) string {
	switch g {
	case model.Daily:
		if len(key) == 10 {
			if key[8:] == "01" {
				return monthAbbrev(key[5:7])
			}
			return strings.TrimPrefix(key[8:], "0")
		}
	case model.Weekly:
		if i := strings.Index(key, "-W"); i >= 0 {
			return key[i+1:]
		}
	case model.Monthly:
		if len(key) > 3 {
			return key[:3]
		}
	}
	return key
}

var monthAbbrevs = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

func monthAbbrev(mm string) string {
	var m int
	if _, err := fmt.Sscanf(mm, "%d", &m); err != nil || m < 1 || m > 12 {
		return mm
	}
	return monthAbbrevs[m-1]
}

func (a App) renderSeriesTab(cw, h int) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	at, ok := a.selected()
	if !ok {
		return components.ContentCard("Series", muted.Render("Select a target on the Targets tab."), cw)
	}

	def := at.Slot(a.slot)
	title := fmt.Sprintf("KPI %d · %s · slot %d · %s", at.KPIID, a.kpiName(at.KPIID), a.slot, a.gran)
	switch {
	case a.seriesErr != nil:
		return components.ContentCard(title, muted.Render(a.seriesErr.Error()), cw)
	case !def.HasValue():
		return components.ContentCard(title, muted.Render("Slot has no value; no series is stored."), cw)
	case a.seriesKey != a.selectedKey() || a.seriesGran != a.gran:
		return components.ContentCard(title, muted.Render(a.spinner.View()+" loading..."), cw)
	case len(a.series) == 0:
		return components.ContentCard(title, muted.Render("No rows stored."), cw)
	}

	values := make([]float64, len(a.series))
	labels := make([]string, len(a.series))
	total, lo, hi := 0.0, a.series[0].Value, a.series[0].Value
	for i, pv := range a.series {
		values[i] = pv.Value
		labels[i] = periodLabel(a.gran, pv.Key)
		total += pv.Value
		lo = min(lo, pv.Value)
		hi = max(hi, pv.Value)
	}

	var b strings.Builder
	b.WriteString(components.MetricRow([]components.Metric{
		{Label: "Annual", Value: cli.FormatSlot(def.Value), Note: string(at.Logic) + " · " + string(at.Profile)},
		{Label: "Sum of " + string(a.gran), Value: cli.FormatValue(total), Note: fmt.Sprintf("%d periods", len(values))},
		{Label: "Min", Value: cli.FormatValue(lo)},
		{Label: "Max", Value: cli.FormatValue(hi)},
	}, cw))
	b.WriteString("\n")

	chartH := max(h-lipgloss.Height(b.String())-5, 4)
	chart := components.BarChart(values, labels, t.Blue, components.CardInnerWidth(cw), chartH)
	b.WriteString(components.ContentCard(title, chart, cw))
	b.WriteString("\n")
	b.WriteString(muted.Render(" [1/2] slot  [Tab] granularity  [j/k] target"))
	return b.String()
}
