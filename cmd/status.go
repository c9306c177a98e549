package cmd

import (
	"fmt"
	"os"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/store"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show target store contents and stored partitions",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	parts, err := st.Partitions(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("TARGET STORE"))
	fmt.Println()

	dsn := appCfg.DBPath()
	rows := [][]string{
		{"Backend", st.Dialect()},
	}
	if store.IsPostgresDSN(dsn) {
		rows = append(rows, []string{"Location", cli.Muted("postgres")})
	} else {
		rows = append(rows, []string{"Location", dsn})
		if fi, err := os.Stat(dsn); err == nil {
			rows = append(rows, []string{"Size", cli.FormatBytes(fi.Size())})
		}
	}
	rows = append(rows,
		cli.SeparatorRow,
		[]string{"KPIs", cli.FormatCount(int64(counts.KPIs))},
		[]string{"Links", cli.FormatCount(int64(counts.Links))},
		[]string{"Annual targets", cli.FormatCount(int64(counts.AnnualTargets))},
		[]string{"Daily rows", cli.FormatCount(int64(counts.DailyRows))},
		[]string{"Save runs", cli.FormatCount(int64(counts.Runs))},
	)
	if runs, err := st.Runs(ctx, 1); err == nil && len(runs) > 0 {
		rows = append(rows, []string{"Last save", cli.FormatAgo(runs[0].StartedAt)})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Store", "Value"},
		Rows:     rows,
		LeftCols: 2,
	}))

	if len(parts) == 0 {
		fmt.Println("\n  No partitions stored yet.")
		return nil
	}
	prow := make([][]string, 0, len(parts))
	for _, p := range parts {
		prow = append(prow, []string{
			fmt.Sprintf("%d", p.Year),
			fmt.Sprintf("%d", p.LocationID),
			cli.FormatCount(int64(p.Targets)),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:    "Partitions",
		Headers:  []string{"Year", "Location", "Targets"},
		Rows:     prow,
		LeftCols: 2,
	}))
	return nil
}
