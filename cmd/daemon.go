package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/daemon"
	"github.com/theirongolddev/kpitarget/internal/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
)

// daemonState is written next to the store while the daemon runs and lets
// `daemon status` and `daemon stop` find the process and its API.
type daemonState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Store     string    `json:"store"`
	WatchDir  string    `json:"watch_dir,omitempty"`
}

var errDaemonNotRunning = errors.New("daemon is not running")

var (
	flagDaemonAddr         string
	flagDaemonInterval     time.Duration
	flagDaemonWatchDir     string
	flagDaemonDetach       bool
	flagDaemonStateFile    string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the target service with HTTP/SSE endpoints and a watched submission directory",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&flagDaemonStateFile, "state-file",
		filepath.Join(config.DataDir(), "kpitargetd.json"), "Runtime state file (pid and address)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (default from config)")

	daemonCmd.Flags().StringVar(&flagDaemonLogFile, "log-file",
		filepath.Join(config.DataDir(), "kpitargetd.log"), "Log file for detached mode")
	daemonCmd.Flags().DurationVar(&flagDaemonInterval, "interval", 0, "Watch directory rescan interval (default from config)")
	daemonCmd.Flags().StringVar(&flagDaemonWatchDir, "watch", "", "Submission directory to watch (default from config)")
	daemonCmd.Flags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (default from config)")
	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonConfig merges daemon flags over the [daemon] and [general] config.
func daemonConfig() daemon.Config {
	dc := appCfg.Daemon
	cfg := daemon.Config{
		Addr:         cmpOr(flagDaemonAddr, dc.Addr),
		EventsBuffer: dc.EventsBuffer,
		WatchDir:     cmpOr(flagDaemonWatchDir, dc.WatchDir),
		Interval:     time.Duration(dc.WatchSeconds) * time.Second,
		Year:         appCfg.General.Year,
		Location:     appCfg.General.Location,
	}
	if flagDaemonEventsBuffer > 0 {
		cfg.EventsBuffer = flagDaemonEventsBuffer
	}
	if flagDaemonInterval > 0 {
		cfg.Interval = flagDaemonInterval
	}
	return cfg
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	switch {
	case flagDaemonDetach && flagDaemonChild:
		return errors.New("invalid daemon launch mode")
	case flagDaemonDetach:
		return detachDaemon()
	}
	return serveDaemon(cmd.Context())
}

// detachDaemon re-executes the current command line as a background child
// writing to the log file.
func detachDaemon() error {
	if st, err := liveDaemon(); err == nil {
		return fmt.Errorf("daemon already running (pid %d)", st.PID)
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}
	//nolint:gosec // log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	args := slices.DeleteFunc(slices.Clone(os.Args[1:]), func(a string) bool {
		return a == "--detach" || strings.HasPrefix(a, "--detach=")
	})
	child := exec.Command(exe, append(args, "--child")...) //nolint:gosec // re-executes this binary
	child.Stdout, child.Stderr = logf, logf
	child.Env = os.Environ()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", child.Process.Pid)
	fmt.Printf("  API:   http://%s/v1/status\n", daemonConfig().Addr)
	fmt.Printf("  Log:   %s\n", flagDaemonLogFile)
	fmt.Printf("  State: %s\n", flagDaemonStateFile)
	return nil
}

func serveDaemon(ctx context.Context) error {
	if st, err := liveDaemon(); err == nil {
		return fmt.Errorf("daemon already running (pid %d)", st.PID)
	}
	// The detached child writes to a log file; use JSON lines there.
	if flagDaemonChild {
		logger = logging.New(appCfg.Log.Level, logging.JSON, os.Stderr)
	}

	cfg := daemonConfig()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	state := daemonState{
		PID:       os.Getpid(),
		Addr:      cfg.Addr,
		StartedAt: time.Now(),
		Store:     redactDSN(appCfg.DBPath()),
		WatchDir:  cfg.WatchDir,
	}
	if err := writeDaemonState(state); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonStateFile) }()

	metrics := daemon.NewMetrics()
	svc := daemon.New(cfg, st, newOrchestrator(st, metrics), metrics, logger)

	if !flagDaemonChild {
		fmt.Printf("  kpitarget daemon on http://%s (store %s)\n", cfg.Addr, state.Store)
		if cfg.WatchDir != "" {
			fmt.Printf("  Watching %s\n", cfg.WatchDir)
		}
		fmt.Println("  Stop with Ctrl-C or `kpitarget daemon stop`")
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	state, err := liveDaemon()
	if err != nil {
		fmt.Printf("  Daemon: %v\n", err)
		return nil
	}
	fmt.Printf("  Daemon PID: %d (up %s)\n", state.PID, cli.FormatAgo(state.StartedAt))
	fmt.Printf("  Address:    http://%s\n", state.Addr)

	st, err := fetchDaemonStatus(cmd.Context(), state.Addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}
	fmt.Printf("  Store:      %s (%d annual targets, %s daily rows)\n",
		st.Store, st.Counts.AnnualTargets, cli.FormatCount(int64(st.Counts.DailyRows)))
	fmt.Printf("  Saves:      %d, last %s\n", st.SaveCount, cli.FormatAgo(st.LastSaveAt))
	if st.WatchDir != "" {
		fmt.Printf("  Watching:   %s every %ds, last scan %s\n", st.WatchDir, st.WatchIntervalS, cli.FormatAgo(st.LastScanAt))
	}
	fmt.Printf("  Events:     %d buffered, %d subscribers\n", st.EventCount, st.SubscriberCount)
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", cli.Warn(st.LastError))
	}
	return nil
}

func fetchDaemonStatus(ctx context.Context, addr string) (daemon.Status, error) {
	var st daemon.Status
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("malformed response: %w", err)
	}
	return st, nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	state, err := liveDaemon()
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(state.PID)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	// The daemon removes its state file on exit; wait for the process.
	_, err = backoff.Retry(cmd.Context(), func() (struct{}, error) {
		if processAlive(state.PID) {
			return struct{}{}, fmt.Errorf("pid %d still running", state.PID)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(150*time.Millisecond)),
		backoff.WithMaxElapsedTime(8*time.Second),
	)
	if err != nil {
		return fmt.Errorf("daemon did not exit in time: %w", err)
	}
	_ = os.Remove(flagDaemonStateFile)
	fmt.Printf("  Stopped daemon (pid %d)\n", state.PID)
	return nil
}

// liveDaemon reads the state file and checks its process. A state file left
// by a dead process is removed.
func liveDaemon() (daemonState, error) {
	var st daemonState
	//nolint:gosec // state path is configured by the local user
	data, err := os.ReadFile(flagDaemonStateFile)
	if errors.Is(err, os.ErrNotExist) {
		return st, errDaemonNotRunning
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil || st.PID <= 0 {
		return st, fmt.Errorf("malformed state file %s", flagDaemonStateFile)
	}
	if !processAlive(st.PID) {
		_ = os.Remove(flagDaemonStateFile)
		return st, fmt.Errorf("%w (stale state for pid %d removed)", errDaemonNotRunning, st.PID)
	}
	return st, nil
}

func writeDaemonState(st daemonState) error {
	if err := os.MkdirAll(filepath.Dir(flagDaemonStateFile), 0o750); err != nil {
		return fmt.Errorf("create daemon state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(flagDaemonStateFile, append(data, '\n'), 0o600)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
