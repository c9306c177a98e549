package cmd

import (
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/model"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Recent save runs",
	RunE:  runRuns,
}

var (
	runsLimit int
	runsAll   bool
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsCmd.Flags().BoolVar(&runsAll, "all", false, "Show runs of every year and location")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	limit := runsLimit
	if !runsAll {
		// Runs are stored across scopes; over-fetch before filtering.
		limit = runsLimit * 5
	}
	runs, err := st.Runs(ctx, limit)
	if err != nil {
		return err
	}

	title := "SAVE RUNS"
	if !runsAll {
		year, loc, err := resolveScope(ctx, st)
		if err != nil {
			return err
		}
		kept := runs[:0]
		for _, r := range runs {
			if r.Year == year && r.LocationID == loc {
				kept = append(kept, r)
			}
		}
		runs = kept
		title = fmt.Sprintf("SAVE RUNS  %d  Location %d", year, loc)
	}
	if len(runs) > runsLimit {
		runs = runs[:runsLimit]
	}
	if len(runs) == 0 {
		fmt.Println("\n  No save runs recorded.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(title))
	fmt.Println()

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortRunID(r.ID),
			cli.FormatAgo(r.StartedAt),
			fmt.Sprintf("%d/%d", r.Year, r.LocationID),
			initiatorOf(r),
			cli.FormatDuration(r.Duration),
			cli.FormatIDs(r.Changed, 6),
			cli.FormatIDs(unresolvedKPIs(r.Unresolved), 6),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Run", "Started", "Scope", "By", "Time", "Changed", "Unresolved"},
		Rows:     rows,
		LeftCols: 4,
	}))
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func initiatorOf(r model.SaveRun) string {
	if r.Initiator == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *r.Initiator)
}

func unresolvedKPIs(us []model.Unresolved) []int64 {
	seen := make(map[int64]bool, len(us))
	var ids []int64
	for _, u := range us {
		if !seen[u.KPIID] {
			seen[u.KPIID] = true
			ids = append(ids, u.KPIID)
		}
	}
	return ids
}
