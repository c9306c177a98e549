package cmd

import (
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/tui"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	// Flag overrides are not persisted; start from the file.
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	form, vals := tui.NewSetupForm(cfg)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}
	if err := vals.Apply(&cfg); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.Path())
	fmt.Println("  Run `kpitarget setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}
