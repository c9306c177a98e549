// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatValue formats a target value with thousands separators and two
// decimals, dropping the decimals for whole numbers.
// e.g., 1234567 -> "1,234,567", 1234.5 -> "1,234.50"
func FormatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}

// FormatSlot formats an optional slot value; nil renders as a dash.
func FormatSlot(v *float64) string {
	if v == nil {
		return "-"
	}
	return FormatValue(*v)
}

// FormatCompact formats a value with K/M/B suffixes.
// e.g., 1234 -> "1.2K", 1234567 -> "1.2M"
func FormatCompact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", v/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	case abs >= 10 || v == math.Trunc(v):
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// FormatCount adds comma separators to an integer.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// FormatPercent formats a 0-1 float as a percentage string.
func FormatPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

// FormatDelta formats the signed change from previous to current.
func FormatDelta(current, previous float64) string {
	delta := current - previous
	if delta >= 0 {
		return "+" + FormatValue(delta)
	}
	return "-" + FormatValue(-delta)
}

// FormatDuration formats a duration for run listings.
// e.g., 1.5s -> "1.5s", 42ms -> "42ms", 3725s -> "1h 2m"
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	secs := int64(d.Seconds())
	hours := secs / 3600
	mins := (secs % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// FormatAgo renders t relative to now, e.g. "3 minutes ago".
func FormatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// FormatBytes renders a file size, e.g. "1.2 MB".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// FormatIDs joins KPI ids for table cells, eliding long lists.
func FormatIDs(ids []int64, limit int) string {
	if len(ids) == 0 {
		return "-"
	}
	out := ""
	for i, id := range ids {
		if limit > 0 && i == limit {
			return out + fmt.Sprintf(" +%d", len(ids)-limit)
		}
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(id)
	}
	return out
}
