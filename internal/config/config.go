// Package config loads kpitarget settings from a TOML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds all kpitarget configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Engine     EngineConfig     `toml:"engine"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Log        LogConfig        `toml:"log"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// GeneralConfig holds the store location and the default scope for
// read commands.
type GeneralConfig struct {
	// DB is a SQLite file path or a postgres:// URL.
	DB       string `toml:"db,omitempty"`
	Year     int    `toml:"year,omitempty"`
	Location int64  `toml:"location"`
}

// EngineConfig holds the distribution defaults used when a target leaves
// its profile parameters unset.
type EngineConfig struct {
	DeviationScale      float64 `toml:"deviation_scale"`
	WeekendFactor       float64 `toml:"weekend_factor"`
	ProgressiveStrength float64 `toml:"progressive_strength"`
	SinusoidalAmplitude float64 `toml:"sinusoidal_amplitude"`
	SinusoidalPhase     float64 `toml:"sinusoidal_phase"`
	FormulaExtraPasses  int     `toml:"formula_extra_passes"`
	FormulaCacheSize    int     `toml:"formula_cache_size"`
	Workers             int     `toml:"workers,omitempty"`
}

// DaemonConfig holds HTTP service settings.
type DaemonConfig struct {
	Addr         string `toml:"addr"`
	EventsBuffer int    `toml:"events_buffer"`
	WatchDir     string `toml:"watch_dir,omitempty"`
	WatchSeconds int    `toml:"watch_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// envOverrides lists the variables that take precedence over the file.
type envOverrides struct {
	DB         string `env:"KPITARGET_DB"`
	LogLevel   string `env:"KPITARGET_LOG_LEVEL"`
	DaemonAddr string `env:"KPITARGET_DAEMON_ADDR"`
	Theme      string `env:"KPITARGET_THEME"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			DeviationScale:      0.1,
			WeekendFactor:       0.5,
			ProgressiveStrength: 0.5,
			SinusoidalAmplitude: 0.3,
			SinusoidalPhase:     0,
			FormulaExtraPasses:  5,
			FormulaCacheSize:    512,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8790",
			EventsBuffer: 200,
			WatchSeconds: 15,
		},
		Log: LogConfig{
			Level: "info",
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kpitarget")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kpitarget")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DataDir returns the XDG-compliant data directory holding the default
// SQLite store.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "kpitarget")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "kpitarget")
}

// DBPath returns the store DSN: the configured one, or the default SQLite file.
func (c Config) DBPath() string {
	if c.General.DB != "" {
		return c.General.DB
	}
	return filepath.Join(DataDir(), "targets.db")
}

// Load reads the config file at Path, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config file at path and applies environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is the user's config file
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.DB != "" {
		cfg.General.DB = o.DB
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.DaemonAddr != "" {
		cfg.Daemon.Addr = o.DaemonAddr
	}
	if o.Theme != "" {
		cfg.Appearance.Theme = o.Theme
	}
	return nil
}

// Save writes the config to Path.
func Save(cfg Config) error {
	return SaveFile(Path(), cfg)
}

// SaveFile writes the config to path, creating its directory.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path is the user's config file
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}
