package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/pipeline"
	"github.com/theirongolddev/kpitarget/internal/source"

	"github.com/spf13/cobra"
)

var (
	flagSaveDir     string
	flagSaveForce   bool
	flagSaveWorkers int
)

var saveCmd = &cobra.Command{
	Use:   "save [file.toml ...]",
	Short: "Save annual target submissions and rebuild their series",
	Long: "Save one or more TOML submission files. With --dir every changed file in\n" +
		"the directory is applied; --force reapplies files that have not changed.",
	RunE: runSave,
}

func init() {
	saveCmd.Flags().StringVar(&flagSaveDir, "dir", "", "Apply every submission file in this directory")
	saveCmd.Flags().BoolVar(&flagSaveForce, "force", false, "Reapply unchanged files (with --dir)")
	saveCmd.Flags().IntVarP(&flagSaveWorkers, "workers", "w", 0, "Parse workers (default from config)")
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	if flagSaveDir == "" && len(args) == 0 {
		return errors.New("nothing to save: pass submission files or --dir")
	}
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	orch := newOrchestrator(st, nil)

	var outcomes []pipeline.FileOutcome
	skipped := 0
	if flagSaveDir != "" {
		workers := flagSaveWorkers
		if workers <= 0 {
			workers = appCfg.Engine.Workers
		}
		res, err := orch.ApplyDir(ctx, flagSaveDir, pipeline.DirOptions{
			Force:    flagSaveForce,
			Workers:  workers,
			Progress: progressPrinter("Parsing"),
		})
		if err != nil {
			return err
		}
		outcomes = append(outcomes, res.Files...)
		skipped = res.Unchanged
	}

	for _, path := range args {
		outcomes = append(outcomes, saveFile(cmd, orch, path))
	}

	printSaveOutcomes(outcomes, skipped)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d submissions failed", failed, len(outcomes))
	}
	return nil
}

func saveFile(cmd *cobra.Command, orch *pipeline.Orchestrator, path string) pipeline.FileOutcome {
	out := pipeline.FileOutcome{Path: path}
	df, err := source.Stat(path)
	if err != nil {
		out.Err = err
		return out
	}
	pr := source.ParseFile(df)
	if pr.Err != nil {
		out.Err = pr.Err
		return out
	}
	res, err := orch.SaveAnnualTargets(cmd.Context(), pipeline.RequestFromSubmission(pr.Submission))
	out.Err = err
	if err == nil || len(res.Pending) > 0 {
		out.Result = &res
	}
	return out
}

func printSaveOutcomes(outcomes []pipeline.FileOutcome, skipped int) {
	fmt.Println()
	fmt.Println(cli.RenderTitle("SAVE"))
	fmt.Println()

	if len(outcomes) == 0 {
		fmt.Printf("  Nothing to apply (%d unchanged files skipped). Use --force to reapply.\n", skipped)
		return
	}

	rows := make([][]string, 0, len(outcomes))
	var problems []*source.ValidationError
	for _, o := range outcomes {
		name := filepath.Base(o.Path)
		if o.Err != nil && o.Result == nil {
			var verr *source.ValidationError
			if errors.As(o.Err, &verr) {
				problems = append(problems, verr)
				rows = append(rows, []string{name, "-", "-", "-", "-", cli.Error("invalid")})
			} else {
				rows = append(rows, []string{name, "-", "-", "-", "-", cli.Error(o.Err.Error())})
			}
			continue
		}
		r := o.Result
		status := cli.OK("saved")
		switch {
		case len(r.Pending) > 0:
			status = cli.Warn(fmt.Sprintf("cancelled, %d pending", len(r.Pending)))
		case len(r.Unresolved) > 0:
			status = cli.Warn("unresolved " + cli.FormatIDs(r.UnresolvedIDs(), 5))
		case r.Unchanged:
			status = cli.Muted("unchanged")
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", len(r.Changed)),
			fmt.Sprintf("%d", r.Repartitioned),
			fmt.Sprintf("%d", r.Passes),
			cli.FormatDuration(r.Duration),
			status,
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"File", "Changed", "Series", "Passes", "Time", "Status"},
		Rows:     rows,
		LeftCols: 1,
	}))

	if skipped > 0 {
		fmt.Printf("\n  %s\n", cli.Muted(fmt.Sprintf("%d unchanged files skipped", skipped)))
	}
	for _, verr := range problems {
		fmt.Printf("\n  %s\n", cli.Error(verr.Path))
		for _, p := range verr.Problems {
			fmt.Printf("    - %s\n", p)
		}
	}
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		for _, u := range o.Result.Unresolved {
			msg := fmt.Sprintf("KPI %d slot %d: %s", u.KPIID, u.Slot, u.Reason)
			if len(u.Cycle) > 0 {
				msg += " (cycle " + cli.FormatIDs(u.Cycle, 10) + ")"
			} else if u.Detail != "" {
				msg += " (" + u.Detail + ")"
			}
			fmt.Printf("  %s %s\n", cli.Warn("!"), msg)
		}
	}
	fmt.Println()
}
