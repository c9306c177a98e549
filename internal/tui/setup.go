package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/logging"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/huh"
)

// SetupValues backs the setup form fields.
type SetupValues struct {
	DB       string
	Year     string
	Location string
	Theme    string
	LogLevel string
}

// setupValuesFrom seeds the form with cfg.
func setupValuesFrom(cfg config.Config) *SetupValues {
	v := &SetupValues{
		DB:       cfg.General.DB,
		Location: strconv.FormatInt(cfg.General.Location, 10),
		Theme:    cfg.Appearance.Theme,
		LogLevel: cfg.Log.Level,
	}
	if cfg.General.Year != 0 {
		v.Year = strconv.Itoa(cfg.General.Year)
	}
	if v.Theme == "" {
		v.Theme = theme.All[0].Name
	}
	if v.LogLevel == "" {
		v.LogLevel = "info"
	}
	return v
}

// Apply copies the form values into cfg.
func (v SetupValues) Apply(cfg *config.Config) error {
	cfg.General.DB = strings.TrimSpace(v.DB)

	cfg.General.Year = 0
	if y := strings.TrimSpace(v.Year); y != "" {
		n, err := parseYear(y)
		if err != nil {
			return err
		}
		cfg.General.Year = n
	}

	loc, err := parseLocation(v.Location)
	if err != nil {
		return err
	}
	cfg.General.Location = loc
	cfg.Appearance.Theme = v.Theme
	cfg.Log.Level = v.LogLevel
	return nil
}

func parseYear(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1900 || n > 9999 {
		return 0, fmt.Errorf("year must be between 1900 and 9999, got %q", s)
	}
	return n, nil
}

func parseLocation(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("location must be a non-negative integer, got %q", s)
	}
	return n, nil
}

// NewSetupForm builds the configuration form seeded from cfg. The returned
// values are filled in as the user edits; call Apply once the form
// completes.
func NewSetupForm(cfg config.Config) (*huh.Form, *SetupValues) {
	v := setupValuesFrom(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("kpitarget setup").
				Description("Settings are saved to "+config.Path()),
			huh.NewInput().
				Title("Target store").
				Description("SQLite file or postgres:// URL. Leave empty for "+cfg.DBPath()+".").
				Value(&v.DB),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Default year").
				Description("Used by read commands when --year is not given. Empty means the current year.").
				Value(&v.Year).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := parseYear(s)
					return err
				}),
			huh.NewInput().
				Title("Default location").
				Value(&v.Location).
				Validate(func(s string) error {
					_, err := parseLocation(s)
					return err
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Color theme").
				Options(huh.NewOptions(theme.Names()...)...).
				Value(&v.Theme),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions(logging.Levels()...)...).
				Value(&v.LogLevel),
		),
	).WithShowHelp(true)

	return form, v
}
