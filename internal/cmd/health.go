package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sauerdaniel/ticketsync/internal/health"
	"github.com/sauerdaniel/ticketsync/internal/projection"
	"github.com/sauerdaniel/ticketsync/internal/style"
)

// Health command flags
var (
	healthJSON bool
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: GroupDiag,
	Short:   "Check daemon health from its heartbeat",
	Long: `Check daemon health based on the state file it rewrites after every tick.

Health is derived from the age of the last tick, against a timeout of one
sync interval plus the tick timeout:
- healthy: last tick within the timeout
- stale: tick overdue (> timeout, < 2x timeout)
- dead: no tick for 2x timeout, or the process is gone

Exits non-zero when the daemon is dead.

Examples:
  ticketsync health
  ticketsync health --json`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(healthCmd)
}

// errDaemonDead makes the command exit non-zero without printing twice.
var errDaemonDead = errors.New("daemon is dead")

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stateDir := cfg.Daemon.StateDir

	running, pid, err := projection.IsRunning(stateDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	state, err := projection.LoadState(stateDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	result := health.CheckDaemonHealth(state, running, pid, daemonTimeout(cfg), time.Now())

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printHealth(result)
	}

	if result.Health == health.Dead {
		cmd.SilenceErrors = true
		return errDaemonDead
	}
	return nil
}

func printHealth(result health.Result) {
	var icon string
	switch result.Health {
	case health.Healthy:
		icon = "●"
	case health.Stale, health.Unknown:
		icon = "⚠"
	default:
		icon = "✗"
	}

	fmt.Printf("%s Daemon: %s\n", style.ForHealth(result.Health).Render(icon), style.ForHealth(result.Health).Render(result.Health))
	if result.Reason != "" {
		fmt.Printf("  %s\n", style.Dim.Render(result.Reason))
	}
	if result.Running {
		fmt.Printf("  PID: %d\n", result.PID)
	}
	if !result.LastTick.IsZero() {
		fmt.Printf("  Last tick: %s %s\n", result.LastTick.Format("2006-01-02 15:04:05"), style.Dim.Render("("+formatAgo(result.LastTick)+")"))
	}
	fmt.Printf("  Timeout: %v\n", result.Timeout)
	fmt.Printf("  Ticks: %d", result.TickCount)
	if result.ErrorCount > 0 {
		fmt.Printf(", errors: %d", result.ErrorCount)
	}
	fmt.Printf(", tracked: %d\n", result.Tracked)
}
