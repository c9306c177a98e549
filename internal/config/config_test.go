package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KPITARGET_DB", "KPITARGET_LOG_LEVEL", "KPITARGET_DAEMON_ADDR", "KPITARGET_THEME"} {
		t.Setenv(k, "")
	}
}

func TestLoadFile_MissingUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Engine.FormulaExtraPasses != 5 {
		t.Fatalf("FormulaExtraPasses = %d, want 5", cfg.Engine.FormulaExtraPasses)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kpitarget", "config.toml")

	cfg := DefaultConfig()
	cfg.General.DB = "/tmp/x.db"
	cfg.General.Year = 2026
	cfg.General.Location = 4
	cfg.Engine.WeekendFactor = 0.7
	if err := SaveFile(path, cfg); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.General.DB = "/from/file.db"
	if err := SaveFile(path, cfg); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KPITARGET_DB", "postgres://kpi@localhost/targets")
	t.Setenv("KPITARGET_LOG_LEVEL", "debug")
	t.Setenv("KPITARGET_DAEMON_ADDR", ":9999")

	got, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath() != "postgres://kpi@localhost/targets" {
		t.Fatalf("DBPath = %q", got.DBPath())
	}
	if got.Log.Level != "debug" || got.Daemon.Addr != ":9999" {
		t.Fatalf("overrides not applied: %+v", got)
	}
}

func TestDBPathDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DefaultConfig().DBPath(); got != filepath.Join("/data", "kpitarget", "targets.db") {
		t.Fatalf("DBPath = %q", got)
	}
}

func TestLoadFile_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveFile(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[general\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Fatalf("error = %v, want parsing config", err)
	}
}
