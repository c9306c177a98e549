package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/model"

	"github.com/spf13/cobra"
)

var (
	flagKPI  int64
	flagSlot int
)

// periodCmd builds the table command for one granularity.
func periodCmd(g model.Granularity) *cobra.Command {
	c := &cobra.Command{
		Use:   string(g),
		Short: fmt.Sprintf("%s target series of one KPI slot", granularityTitle(g)),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPeriods(cmd, g)
		},
	}
	c.Flags().Int64VarP(&flagKPI, "kpi", "k", 0, "KPI id")
	c.Flags().IntVarP(&flagSlot, "slot", "s", 1, "Target slot (1 or 2)")
	_ = c.MarkFlagRequired("kpi")
	return c
}

func init() {
	for _, g := range model.Granularities {
		rootCmd.AddCommand(periodCmd(g))
	}
}

func granularityTitle(g model.Granularity) string {
	switch g {
	case model.Daily:
		return "Daily"
	case model.Weekly:
		return "Weekly"
	case model.Monthly:
		return "Monthly"
	}
	return "Quarterly"
}

func runPeriods(cmd *cobra.Command, g model.Granularity) error {
	slot := model.Slot(flagSlot)
	if !slot.Valid() {
		return errors.New("--slot must be 1 or 2")
	}
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	year, loc, err := resolveScope(ctx, st)
	if err != nil {
		return err
	}
	key := model.SeriesKey{Year: year, LocationID: loc, KPIID: flagKPI, Slot: slot}
	rows, err := st.Series(ctx, key, g)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("\n  No %s rows stored for %s.\n", g, key)
		return nil
	}

	var annual float64
	values := make([]float64, len(rows))
	for i, pv := range rows {
		values[i] = pv.Value
		annual += pv.Value
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("%s TARGETS  KPI %d  Slot %d  %d/%d",
		granularityTitle(g), flagKPI, slot, year, loc)))
	fmt.Println()
	fmt.Printf("  %s  %s\n\n", cli.RenderSparkline(values), cli.Muted(fmt.Sprintf("%d periods", len(rows))))

	headers := []string{"Period", "Target", "Share"}
	left := 1
	if g == model.Daily {
		headers = []string{"Date", "Day", "Target", "Share"}
		left = 2
	}

	table := make([][]string, 0, len(rows)+2)
	for _, pv := range rows {
		share := "-"
		if annual != 0 {
			share = cli.FormatPercent(pv.Value / annual)
		}
		if g == model.Daily {
			table = append(table, []string{pv.Key, weekdayOf(pv.Key), cli.FormatValue(pv.Value), share})
			continue
		}
		table = append(table, []string{pv.Key, cli.FormatValue(pv.Value), share})
	}
	table = append(table, cli.SeparatorRow)
	if g == model.Daily {
		table = append(table, []string{"Total", "", cli.FormatValue(annual), ""})
	} else {
		table = append(table, []string{"Total", cli.FormatValue(annual), ""})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  headers,
		Rows:     table,
		LeftCols: left,
	}))
	return nil
}

func weekdayOf(key string) string {
	d, err := time.Parse("2006-01-02", key)
	if err != nil {
		return ""
	}
	return d.Weekday().String()[:3]
}
