package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func useStateFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run", "kpitargetd.json")
	prev := flagDaemonStateFile
	flagDaemonStateFile = path
	t.Cleanup(func() { flagDaemonStateFile = prev })
	return path
}

func TestLiveDaemon_NoStateFile(t *testing.T) {
	useStateFile(t)
	if _, err := liveDaemon(); !errors.Is(err, errDaemonNotRunning) {
		t.Fatalf("err = %v, want errDaemonNotRunning", err)
	}
}

func TestLiveDaemon_RunningProcess(t *testing.T) {
	useStateFile(t)
	want := daemonState{
		PID:       os.Getpid(),
		Addr:      "127.0.0.1:8765",
		StartedAt: time.Now().Truncate(time.Second),
		Store:     "targets.db",
		WatchDir:  "/srv/submissions",
	}
	if err := writeDaemonState(want); err != nil {
		t.Fatal(err)
	}
	got, err := liveDaemon()
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != want.PID || got.Addr != want.Addr || got.WatchDir != want.WatchDir || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("state = %+v, want %+v", got, want)
	}
}

func TestLiveDaemon_StaleStateRemoved(t *testing.T) {
	path := useStateFile(t)
	if err := writeDaemonState(daemonState{PID: 1<<31 - 2, Addr: "127.0.0.1:1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := liveDaemon(); !errors.Is(err, errDaemonNotRunning) {
		t.Fatalf("err = %v, want errDaemonNotRunning", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale state file still present: %v", err)
	}
}

func TestLiveDaemon_MalformedState(t *testing.T) {
	path := useStateFile(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := liveDaemon()
	if err == nil || errors.Is(err, errDaemonNotRunning) {
		t.Fatalf("err = %v, want malformed state error", err)
	}
}

func TestDaemonConfig_FlagsOverrideConfig(t *testing.T) {
	prevCfg := appCfg
	prevAddr, prevInterval := flagDaemonAddr, flagDaemonInterval
	t.Cleanup(func() {
		appCfg = prevCfg
		flagDaemonAddr, flagDaemonInterval = prevAddr, prevInterval
	})

	appCfg.Daemon.Addr = "127.0.0.1:9000"
	appCfg.Daemon.WatchSeconds = 30
	appCfg.General.Location = 7
	flagDaemonAddr = ""
	flagDaemonInterval = 5 * time.Second

	cfg := daemonConfig()
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q, want config value", cfg.Addr)
	}
	if cfg.Interval != 5*time.Second {
		t.Errorf("interval = %v, want flag value", cfg.Interval)
	}
	if cfg.Location != 7 {
		t.Errorf("location = %d, want 7", cfg.Location)
	}

	flagDaemonAddr = "0.0.0.0:1"
	if got := daemonConfig().Addr; got != "0.0.0.0:1" {
		t.Errorf("addr = %q, want flag value", got)
	}
}
