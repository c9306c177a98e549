package cmd

import (
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/tui"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive TUI dashboard",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	theme.SetActive(appCfg.Appearance.Theme)

	// Background styling needs a color profile even when stdout is not
	// detected as a terminal.
	lipgloss.SetColorProfile(termenv.TrueColor)

	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// Year 0 lets the dashboard pick the newest stored partition.
	app := tui.NewApp(st, appCfg.General.Year, appCfg.General.Location)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
