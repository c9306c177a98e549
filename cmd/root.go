package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/formula"
	"github.com/theirongolddev/kpitarget/internal/hierarchy"
	"github.com/theirongolddev/kpitarget/internal/logging"
	"github.com/theirongolddev/kpitarget/internal/pipeline"
	"github.com/theirongolddev/kpitarget/internal/repartition"
	"github.com/theirongolddev/kpitarget/internal/store"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagDB       string
	flagYear     int
	flagLocation int64
	flagLogLevel string
	flagQuiet    bool
)

var (
	appCfg config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "kpitarget",
	Short: "KPI target repartition and formula resolution",
	Long: "Save annual KPI targets, resolve formula-driven targets, distribute master\n" +
		"targets to sub-KPIs and browse the daily, weekly, monthly and quarterly series.",
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
	RunE:              runSummary,
}

// Execute is the main entry point called from main.go. SIGINT and SIGTERM
// cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Target store: SQLite path or postgres:// URL (default from config)")
	rootCmd.PersistentFlags().IntVarP(&flagYear, "year", "y", 0, "Target year (default from config, else newest stored)")
	rootCmd.PersistentFlags().Int64VarP(&flagLocation, "location", "l", 0, "Location id (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

// setupRuntime loads the config, applies flag overrides and builds the
// console logger shared by every command.
func setupRuntime(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagDB != "" {
		cfg.General.DB = flagDB
	}
	if cmd.Flags().Changed("year") {
		cfg.General.Year = flagYear
	}
	if cmd.Flags().Changed("location") {
		cfg.General.Location = flagLocation
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	appCfg = cfg

	level := cfg.Log.Level
	if flagQuiet {
		level = "warn"
	}
	logger = logging.New(level, logging.Console, os.Stderr)
	return nil
}

// openStore opens the configured target store.
func openStore(ctx context.Context) (*store.Store, error) {
	dsn := appCfg.DBPath()
	if !store.IsPostgresDSN(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	st, err := store.Open(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("opening target store: %w", err)
	}
	return st, nil
}

// newOrchestrator wires the save pipeline from the engine config.
func newOrchestrator(st *store.Store, metrics pipeline.MetricsRecorder) *pipeline.Orchestrator {
	ec := appCfg.Engine
	engine := repartition.New(repartition.Options{
		DeviationScale:      ec.DeviationScale,
		WeekendFactor:       ec.WeekendFactor,
		ProgressiveStrength: ec.ProgressiveStrength,
		SinusoidalAmplitude: ec.SinusoidalAmplitude,
		SinusoidalPhase:     ec.SinusoidalPhase,
	}, logger)
	resolver := formula.NewResolver(formula.NewArithmetic(ec.FormulaCacheSize), ec.FormulaExtraPasses, logger)
	return pipeline.New(st, engine, resolver, hierarchy.New(logger), metrics, logger)
}

// resolveScope returns the (year, location) read commands work on. With no
// year configured it picks the newest stored partition, then the current
// year.
func resolveScope(ctx context.Context, st *store.Store) (int, int64, error) {
	if appCfg.General.Year != 0 {
		return appCfg.General.Year, appCfg.General.Location, nil
	}
	parts, err := st.Partitions(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range parts {
		if p.LocationID == appCfg.General.Location {
			return p.Year, p.LocationID, nil
		}
	}
	return time.Now().Year(), appCfg.General.Location, nil
}

// progressPrinter returns a ProgressFunc drawing a bar on stderr, or nil
// in quiet mode.
func progressPrinter(label string) pipeline.ProgressFunc {
	if flagQuiet {
		return nil
	}
	return func(current, total int) {
		fmt.Fprintf(os.Stderr, "\r  %s %s", label, cli.RenderProgressBar(current, total, 30))
		if current == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}
