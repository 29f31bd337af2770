// Package health classifies the daemon from its state file heartbeat.
package health

import (
	"time"

	"github.com/sauerdaniel/ticketsync/internal/projection"
)

// Result is the outcome of one daemon health check.
type Result struct {
	Health     string        `json:"health"`
	Running    bool          `json:"running"`
	PID        int           `json:"pid,omitempty"`
	LastTick   time.Time     `json:"last_tick,omitempty"`
	SinceTick  time.Duration `json:"since_tick_ns,omitempty"`
	Timeout    time.Duration `json:"timeout_ns"`
	TickCount  int           `json:"tick_count"`
	ErrorCount int           `json:"error_count"`
	Tracked    int           `json:"tracked"`
	Reason     string        `json:"reason,omitempty"`
}

// Timeout is how long a tick may be overdue: one interval plus the time a
// single tick is allowed to run.
func Timeout(interval, tickTimeout time.Duration) time.Duration {
	return interval + tickTimeout
}

// CheckDaemonHealth implements the health state machine: healthy → stale → dead
//
// - healthy: last tick within timeout
// - stale: tick overdue (> timeout, < 2x timeout)
// - dead: no tick for 2x timeout, or the process is gone
func CheckDaemonHealth(state *projection.State, running bool, pid int, timeout time.Duration, now time.Time) Result {
	res := Result{
		Running:    running,
		PID:        pid,
		Timeout:    timeout,
		TickCount:  state.TickCount,
		ErrorCount: state.ErrorCount,
		Tracked:    state.Tracked,
		LastTick:   state.LastTick,
	}

	if !running {
		res.Health = Dead
		res.Reason = "daemon is not running"
		return res
	}
	if state.LastTick.IsZero() {
		res.Health = Unknown
		res.Reason = "no tick recorded yet"
		if !state.StartedAt.IsZero() && now.Sub(state.StartedAt) >= scale(timeout, DeadMultiplier) {
			res.Health = Dead
			res.Reason = "no tick since start"
		}
		return res
	}

	res.SinceTick = now.Sub(state.LastTick)
	switch {
	case res.SinceTick < scale(timeout, StaleMultiplier):
		res.Health = Healthy
	case res.SinceTick < scale(timeout, DeadMultiplier):
		res.Health = Stale
		res.Reason = "tick overdue"
	default:
		res.Health = Dead
		res.Reason = "no tick for twice the timeout"
	}
	if res.Health == Healthy && state.LastError != "" {
		res.Reason = "last tick failed: " + state.LastError
	}
	return res
}

func scale(d time.Duration, m float64) time.Duration {
	return time.Duration(float64(d) * m)
}
