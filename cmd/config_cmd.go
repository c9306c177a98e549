// Package cmd implements the kpitarget CLI commands.
package cmd

import (
	"fmt"
	"net/url"

	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/store"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appCfg

	fmt.Printf("  Config file: %s\n", config.Path())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Store:     %s\n", redactDSN(cfg.DBPath()))
	if cfg.General.Year != 0 {
		fmt.Printf("    Year:      %d\n", cfg.General.Year)
	} else {
		fmt.Println("    Year:      newest stored")
	}
	fmt.Printf("    Location:  %d\n", cfg.General.Location)
	fmt.Println()

	e := cfg.Engine
	fmt.Println("  [Engine]")
	fmt.Printf("    Deviation scale:      %g\n", e.DeviationScale)
	fmt.Printf("    Weekend factor:       %g\n", e.WeekendFactor)
	fmt.Printf("    Progressive strength: %g\n", e.ProgressiveStrength)
	fmt.Printf("    Sinusoidal amplitude: %g\n", e.SinusoidalAmplitude)
	fmt.Printf("    Sinusoidal phase:     %g\n", e.SinusoidalPhase)
	fmt.Printf("    Formula extra passes: %d\n", e.FormulaExtraPasses)
	fmt.Printf("    Formula cache size:   %d\n", e.FormulaCacheSize)
	if e.Workers > 0 {
		fmt.Printf("    Workers:              %d\n", e.Workers)
	} else {
		fmt.Println("    Workers:              one per CPU")
	}
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:       %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Events buffer: %d\n", cfg.Daemon.EventsBuffer)
	if cfg.Daemon.WatchDir != "" {
		fmt.Printf("    Watch dir:     %s (every %ds)\n", cfg.Daemon.WatchDir, cfg.Daemon.WatchSeconds)
	} else {
		fmt.Println("    Watch dir:     not set")
	}
	fmt.Println()

	fmt.Println("  [Log]")
	fmt.Printf("    Level: %s\n", cfg.Log.Level)
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `kpitarget setup` to reconfigure.")
	return nil
}

// redactDSN hides the password of a postgres URL.
func redactDSN(dsn string) string {
	if !store.IsPostgresDSN(dsn) {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://..."
	}
	return u.Redacted()
}
