package cmd

import (
	"fmt"
	"sort"

	"github.com/theirongolddev/kpitarget/internal/cli"

	"github.com/spf13/cobra"
)

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "KPI definitions and master/sub links",
	RunE:  runKPIs,
}

func init() {
	rootCmd.AddCommand(kpisCmd)
}

func runKPIs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	kpis, err := st.KPIs(ctx)
	if err != nil {
		return err
	}
	if len(kpis) == 0 {
		fmt.Println("\n  No KPIs stored.")
		return nil
	}
	links, err := st.Links(ctx)
	if err != nil {
		return err
	}

	subs := make(map[int64][]int64)
	weights := make(map[int64]float64)
	totals := make(map[int64]float64)
	master := make(map[int64]int64)
	for _, l := range links {
		subs[l.MasterID] = append(subs[l.MasterID], l.SubID)
		weights[l.SubID] = l.Weight
		totals[l.MasterID] += l.Weight
		master[l.SubID] = l.MasterID
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("KPIS  %d defined  %d links", len(kpis), len(links))))
	fmt.Println()

	rows := make([][]string, 0, len(kpis))
	for _, k := range kpis {
		role, linked, weight, share := "-", "", "", ""
		if ids, ok := subs[k.ID]; ok {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			role = "master"
			linked = cli.FormatIDs(ids, 8)
		}
		if m, ok := master[k.ID]; ok {
			role = "sub"
			linked = fmt.Sprintf("%d", m)
			weight = cli.FormatValue(weights[k.ID])
			if totals[m] > 0 {
				share = cli.FormatPercent(weights[k.ID] / totals[m])
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", k.ID),
			k.Name,
			string(k.Kind),
			role,
			linked,
			weight,
			share,
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"ID", "Name", "Kind", "Role", "Linked", "Weight", "Share"},
		Rows:     rows,
		LeftCols: 5,
	}))
	return nil
}
