package components

import (
	"fmt"
	"math"
	"strings"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline renders values as one row of block characters on the card
// surface.
func Sparkline(values []float64, color lipgloss.Color) string {
	t := theme.Active
	return lipgloss.NewStyle().Foreground(color).Background(t.Surface).
		Render(cli.RenderSparkline(values))
}

// BarChart renders a vertical bar chart of values with a y axis and
// optional x labels. Negative values draw as empty bars. Charts too small
// for axes collapse to a sparkline; series wider than the chart are
// sampled evenly.
func BarChart(values []float64, labels []string, color lipgloss.Color, width, height int) string {
	if len(values) == 0 {
		return ""
	}
	if width < 15 || height < 3 {
		return Sparkline(values, color)
	}
	t := theme.Active

	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}
	if peak <= 0 {
		peak = 1
	}

	step := tickStep(peak)
	for math.Ceil(peak/step) > float64(max(height/2, 2)) {
		step *= 2
	}
	intervals := max(int(math.Ceil(peak/step)), 1)
	ceiling := step * float64(intervals)
	rowsPerTick := max(height/intervals, 1)
	chartH := rowsPerTick * intervals

	axisW := max(len(cli.FormatCompact(ceiling))+1, 4)
	ticks := make(map[int]string, intervals)
	for i := 1; i <= intervals; i++ {
		ticks[i*rowsPerTick] = cli.FormatCompact(step * float64(i))
	}

	plotW := max(width-axisW-1, 5)
	n := len(values)
	gap := 1
	if n == 1 {
		gap = 0
	}
	barW := (plotW - (n-1)*gap) / n
	if barW < 1 {
		values, labels = sample(values, labels, (plotW+1)/2)
		n = len(values)
		barW = 1
	}
	barW = min(barW, 6)
	axisLen := n*barW + (n-1)*gap

	blocks := []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	axis := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	bar := lipgloss.NewStyle().Foreground(color).Background(t.Surface)
	blank := lipgloss.NewStyle().Background(t.Surface)

	var b strings.Builder
	for row := chartH; row >= 1; row-- {
		top := ceiling * float64(row) / float64(chartH)
		bottom := ceiling * float64(row-1) / float64(chartH)

		b.WriteString(axis.Render(fmt.Sprintf("%*s│", axisW, ticks[row])))
		for i, v := range values {
			if i > 0 && gap > 0 {
				b.WriteString(blank.Render(strings.Repeat(" ", gap)))
			}
			switch {
			case v >= top:
				b.WriteString(bar.Render(strings.Repeat("█", barW)))
			case v > bottom:
				idx := min(max(int((v-bottom)/(top-bottom)*8), 1), 8)
				b.WriteString(bar.Render(strings.Repeat(string(blocks[idx]), barW)))
			default:
				b.WriteString(blank.Render(strings.Repeat(" ", barW)))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(axis.Render(fmt.Sprintf("%*s└%s", axisW, "0", strings.Repeat("─", axisLen))))

	if len(labels) == n {
		b.WriteString("\n")
		b.WriteString(blank.Render(strings.Repeat(" ", axisW+1)))
		b.WriteString(axis.Render(axisLabels(labels, barW, gap, axisLen)))
	}
	return b.String()
}

// axisLabels places labels under their bars, skipping any that would
// overlap the previous one.
func axisLabels(labels []string, barW, gap, axisLen int) string {
	buf := []rune(strings.Repeat(" ", axisLen))
	next := 0
	for i, lbl := range labels {
		pos := i * (barW + gap)
		r := []rune(lbl)
		if pos < next || pos+len(r) > axisLen {
			continue
		}
		copy(buf[pos:], r)
		next = pos + len(r) + 1
	}
	return strings.TrimRight(string(buf), " ")
}

func sample(values []float64, labels []string, n int) ([]float64, []string) {
	n = max(n, 2)
	if n >= len(values) {
		return values, labels
	}
	out := make([]float64, n)
	var outLabels []string
	if len(labels) == len(values) {
		outLabels = make([]string, n)
	}
	for i := range out {
		src := i * (len(values) - 1) / (n - 1)
		out[i] = values[src]
		if outLabels != nil {
			outLabels[i] = labels[src]
		}
	}
	return out, outLabels
}

// tickStep picks a 1/2/5 x 10^k interval giving about five ticks.
func tickStep(peak float64) float64 {
	rough := peak / 5
	base := math.Pow(10, math.Floor(math.Log10(rough)))
	switch frac := rough / base; {
	case frac < 1.5:
		return base
	case frac < 3.5:
		return 2 * base
	default:
		return 5 * base
	}
}
