package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sauerdaniel/ticketsync/internal/config"
	"github.com/sauerdaniel/ticketsync/internal/daemon"
	"github.com/sauerdaniel/ticketsync/internal/health"
	"github.com/sauerdaniel/ticketsync/internal/projection"
	"github.com/sauerdaniel/ticketsync/internal/render"
	"github.com/sauerdaniel/ticketsync/internal/style"
	"github.com/sauerdaniel/ticketsync/internal/telegram"
	"github.com/sauerdaniel/ticketsync/internal/ticket"
	"github.com/sauerdaniel/ticketsync/internal/tui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the ticket sync daemon",
	RunE:    requireSubcommand,
	Long: `Manage the ticket sync daemon.

The daemon polls OTRS on a fixed interval and keeps the configured
Telegram chat in step with the open tickets:
- New ticket → one message with action buttons
- State change → the existing message is edited
- Ticket closed or gone → the message is deleted`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync daemon",
	Long: `Start the sync daemon in the background.

The daemon ticks immediately, then once per sync.interval (default 60s).`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sync daemon",
	Long:  `Stop the running sync daemon. An in-flight tick is allowed to finish.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the sync daemon.`,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Long:  `View the daemon log file.`,
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single tick and exit",
	Long:  `Perform one reconciliation pass in the foreground and print its summary.`,
	RunE:  runDaemonOnce,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
	daemonRunStderr bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonOnceCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")
	daemonRunCmd.Flags().BoolVar(&daemonRunStderr, "stderr", false, "Log to stderr instead of the log file")

	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	stateDir := cfg.Daemon.StateDir

	// Check if already running
	running, pid, err := projection.IsRunning(stateDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	daemonArgs := []string{"daemon", "run"}
	if path, explicit := config.ResolvePath(configPath); explicit || fileExists(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		daemonArgs = append(daemonArgs, "--config", path)
	}

	child := exec.Command(exe, daemonArgs...)

	// Detach from terminal
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	// Wait a moment for the daemon to take the lock and write its pid
	time.Sleep(200 * time.Millisecond)

	running, pid, err = projection.IsRunning(stateDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check logs with 'ticketsync daemon logs')")
	}

	fmt.Printf("%s Sync daemon started (PID %d) for %s\n", style.Bold.Render("✓"), pid, cfg.Destination())
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := projection.IsRunning(cfg.Daemon.StateDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := projection.StopDaemon(cfg.Daemon.StateDir); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Sync daemon stopping (was PID %d)\n", style.Bold.Render("✓"), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stateDir := cfg.Daemon.StateDir

	running, pid, err := projection.IsRunning(stateDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if !running {
		fmt.Printf("%s Sync daemon is %s\n",
			style.Dim.Render("○"),
			"not running")
		fmt.Printf("\nStart with: %s\n", style.Dim.Render("ticketsync daemon start"))
		return nil
	}

	fmt.Printf("%s Sync daemon is %s (PID %d)\n",
		style.Bold.Render("●"),
		style.Bold.Render("running"),
		pid)

	state, err := projection.LoadState(stateDir)
	if err != nil || state.StartedAt.IsZero() {
		return nil
	}
	res := health.CheckDaemonHealth(state, running, pid, daemonTimeout(cfg), time.Now())

	fmt.Printf("  Destination: %s\n", state.Destination)
	fmt.Printf("  Started: %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
	if !state.LastTick.IsZero() {
		fmt.Printf("  Last tick: %s %s\n", state.LastTick.Format("15:04:05"), style.Dim.Render("("+formatAgo(state.LastTick)+")"))
	}
	fmt.Printf("  Total ticks: %d\n", state.TickCount)
	fmt.Printf("  Tracked: %d\n", state.Tracked)
	if state.ErrorCount > 0 {
		fmt.Printf("  Errors: %d\n", state.ErrorCount)
	}
	fmt.Printf("  Health: %s\n", style.ForHealth(res.Health).Render(res.Health))
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile := projection.LogPath(cfg.Daemon.StateDir)

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	if daemonLogFollow {
		// Use tail -f for following
		tailCmd := exec.Command("tail", "-f", logFile)
		tailCmd.Stdout = os.Stdout
		tailCmd.Stderr = os.Stderr
		return tailCmd.Run()
	}

	// Use tail -n for last N lines
	tailCmd := exec.Command("tail", "-n", fmt.Sprintf("%d", daemonLogLines), logFile)
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	stateDir := cfg.Daemon.StateDir

	logger := stderrLogger()
	if !daemonRunStderr {
		logger = projection.SetupLogger(projection.LogPath(stateDir))
	}

	lock, err := projection.AcquireLock(stateDir, cfg.Destination())
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := projection.WritePID(stateDir); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer projection.RemovePID(stateDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, store, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Printf("Startup failed: %v", err)
		return err
	}
	defer store.Close()

	instanceID := uuid.NewString()
	startedAt := time.Now()
	saveState := func(res projection.TickResult) {
		if err := projection.SaveState(stateDir, projection.NewState(engine, instanceID, startedAt, res)); err != nil {
			logger.Printf("Warning: saving state: %v", err)
		}
	}
	saveState(projection.TickResult{})

	sched := daemon.NewScheduler(engine, cfg.Sync.Interval.Duration, daemon.Options{
		StopTimeout: cfg.Daemon.StopTimeout.Duration,
		TickTimeout: cfg.Daemon.TickTimeout.Duration,
		OnTick:      saveState,
		Logger:      logger,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	logger.Printf("Daemon started (PID %d, instance %s, destination %s)", os.Getpid(), instanceID[:8], cfg.Destination())

	select {
	case <-ctx.Done():
	case <-sched.Done():
	}
	logger.Printf("Shutting down")

	if err := sched.Stop(context.Background()); err != nil {
		logger.Printf("Warning: %v", err)
	}
	if err := projection.MarkStopped(stateDir); err != nil {
		logger.Printf("Warning: updating state: %v", err)
	}
	logger.Printf("Daemon stopped")
	return nil
}

func runDaemonOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	lock, err := projection.AcquireLock(cfg.Daemon.StateDir, cfg.Destination())
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Daemon.TickTimeout.Duration)
	defer cancel()

	logger := stderrLogger()
	engine, store, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("Running one tick...")
	res := engine.Tick(ctx)
	if res.Err != nil {
		return fmt.Errorf("tick failed: %w", res.Err)
	}

	fmt.Printf("%s Tick completed in %v\n", style.Bold.Render("✓"), res.Duration.Round(time.Millisecond))
	fmt.Printf("  %s\n", style.Dim.Render(res.String()))
	return nil
}

func daemonTimeout(cfg *config.Config) time.Duration {
	return health.Timeout(cfg.Sync.Interval.Duration, cfg.Daemon.TickTimeout.Duration)
}

func formatAgo(t time.Time) string {
	return tui.Ago(time.Now(), t)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// chatGuard flags a misconfigured destination loudly instead of as one more
// failed send.
type chatGuard struct {
	*telegram.Client
	logger *log.Logger
}

func (g chatGuard) Send(ctx context.Context, dest ticket.Destination, text string, actions render.ActionSet) (int64, error) {
	id, err := g.Client.Send(ctx, dest, text, actions)
	if telegram.IsChatNotFound(err) {
		g.logger.Printf("Error: chat %s not found or bot not a member; check telegram.chat_id", dest)
	}
	return id, err
}
