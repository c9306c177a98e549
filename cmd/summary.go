package cmd

import (
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/model"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Annual targets of one year and location",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

// slotCell renders a slot value with a marker for how it was set:
// f formula, m manual, d derived from a master.
func slotCell(d model.SlotDefinition, derived bool) string {
	v := cli.FormatSlot(d.Value)
	switch {
	case d.Formula:
		return v + " f"
	case d.Manual:
		return v + " m"
	case derived && d.HasValue():
		return v + " d"
	}
	return v
}

func runSummary(cmd *cobra.Command, _ []string) error {
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
	targets, err := st.AnnualTargets(ctx, year, loc)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Printf("\n  No annual targets stored for %d, location %d.\n", year, loc)
		fmt.Println("  Save a submission first: kpitarget save targets.toml")
		return nil
	}

	kpis, err := st.KPIs(ctx)
	if err != nil {
		return err
	}
	links, err := st.Links(ctx)
	if err != nil {
		return err
	}
	names := make(map[int64]model.KPI, len(kpis))
	for _, k := range kpis {
		names[k.ID] = k
	}
	masters := make(map[int64]int64, len(links))
	subCount := make(map[int64]int)
	for _, l := range links {
		masters[l.SubID] = l.MasterID
		subCount[l.MasterID]++
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("ANNUAL TARGETS  %d  Location %d", year, loc)))
	fmt.Println()

	var formulas, manual, derived, empty int
	rows := make([][]string, 0, len(targets))
	for _, at := range targets {
		master, isSub := masters[at.KPIID]
		role := ""
		switch {
		case isSub:
			role = fmt.Sprintf("sub of %d", master)
		case subCount[at.KPIID] > 0:
			role = fmt.Sprintf("master (%d)", subCount[at.KPIID])
		}
		for _, s := range model.Slots {
			d := at.Slot(s)
			switch {
			case d.Formula:
				formulas++
			case d.Manual:
				manual++
			case isSub && d.HasValue():
				derived++
			case !d.HasValue():
				empty++
			}
		}
		k := names[at.KPIID]
		rows = append(rows, []string{
			fmt.Sprintf("%d", at.KPIID),
			k.Name,
			string(k.Kind),
			string(at.Logic),
			string(at.Profile),
			role,
			slotCell(*at.Slot(model.Slot1), isSub),
			slotCell(*at.Slot(model.Slot2), isSub),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"KPI", "Name", "Kind", "Logic", "Profile", "Role", "Slot 1", "Slot 2"},
		Rows:     rows,
		LeftCols: 6,
	}))

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Slots",
		Headers: []string{"Formula", "Manual", "Derived", "Empty"},
		Rows: [][]string{{
			cli.FormatCount(int64(formulas)),
			cli.FormatCount(int64(manual)),
			cli.FormatCount(int64(derived)),
			cli.FormatCount(int64(empty)),
		}},
	}))

	runs, err := st.Runs(ctx, 1)
	if err == nil && len(runs) > 0 {
		r := runs[0]
		fmt.Printf("\n  %s\n", cli.Muted(fmt.Sprintf("Last save %s for %d/%d, %d changed",
			cli.FormatAgo(r.StartedAt), r.Year, r.LocationID, len(r.Changed))))
	}
	fmt.Println()
	return nil
}
