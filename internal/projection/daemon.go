package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

// State is the daemon's on-disk status record, rewritten after every tick.
type State struct {
	Running     bool      `json:"running"`
	PID         int       `json:"pid"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	LastTick    time.Time `json:"last_tick"`
	TickCount   int       `json:"tick_count"`
	ErrorCount  int       `json:"error_count"`
	Tracked     int       `json:"tracked"`
	LastError   string    `json:"last_error,omitempty"`
}

var (
	pidFile   = "ticketsync.pid"
	stateFile = "ticketsync.state"
	logFile   = "ticketsync.log"
)

// ErrLocked is returned when another daemon already owns a destination.
var ErrLocked = errors.New("another ticketsync daemon holds the lock")

// NewState builds a state record from the engine's counters.
func NewState(e *Engine, instanceID string, startedAt time.Time, last TickResult) State {
	st := e.Stats()
	state := State{
		Running:     true,
		PID:         os.Getpid(),
		InstanceID:  instanceID,
		Destination: e.Destination().String(),
		StartedAt:   startedAt,
		LastTick:    st.LastTick,
		TickCount:   st.Ticks,
		ErrorCount:  st.Errors,
		Tracked:     st.Tracked,
	}
	if last.Err != nil {
		state.LastError = last.Err.Error()
	}
	return state
}

// PIDPath, StatePath and LogPath locate the daemon files under stateDir.
func PIDPath(stateDir string) string   { return filepath.Join(stateDir, pidFile) }
func StatePath(stateDir string) string { return filepath.Join(stateDir, stateFile) }
func LogPath(stateDir string) string   { return filepath.Join(stateDir, logFile) }

// LockPath is the per-destination single-instance lock file.
func LockPath(stateDir string, dest ticket.Destination) string {
	name := strings.NewReplacer("/", "_", "-", "m").Replace(dest.String())
	return filepath.Join(stateDir, "ticketsync-"+name+".lock")
}

// AcquireLock takes the exclusive lock for dest without blocking.
func AcquireLock(stateDir string, dest ticket.Destination) (*flock.Flock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	lock := flock.New(LockPath(stateDir, dest))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w for %s (%s)", ErrLocked, dest, lock.Path())
	}
	return lock, nil
}

// WritePID records the current process id.
func WritePID(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(PIDPath(stateDir), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePID deletes the pid file if it still names this process.
func RemovePID(stateDir string) {
	data, err := os.ReadFile(PIDPath(stateDir))
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		_ = os.Remove(PIDPath(stateDir))
	}
}

// IsRunning checks if the daemon is currently running.
func IsRunning(stateDir string) (bool, int, error) {
	pidBytes, err := os.ReadFile(PIDPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return false, 0, fmt.Errorf("parsing PID file: %w", err)
	}

	if processExists(pid) {
		return true, pid, nil
	}

	// PID file exists but process is dead - stale
	_ = os.Remove(PIDPath(stateDir))
	return false, 0, nil
}

// StopDaemon asks a running daemon to shut down.
func StopDaemon(stateDir string) error {
	running, pid, err := IsRunning(stateDir)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := terminateProcess(pid); err != nil {
		return fmt.Errorf("terminating process %d: %w", pid, err)
	}
	return nil
}

// LoadState loads the daemon state from disk. A missing file is a zero state.
func LoadState(stateDir string) (*State, error) {
	stateBytes, err := os.ReadFile(StatePath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(stateBytes, &state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	return &state, nil
}

// SaveState writes state atomically via a temp file and rename.
func SaveState(stateDir string, state State) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}

	stateBytes, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := StatePath(stateDir) + ".tmp"
	if err := os.WriteFile(tmp, stateBytes, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, StatePath(stateDir))
}

// MarkStopped flips Running off in the saved state.
func MarkStopped(stateDir string) error {
	state, err := LoadState(stateDir)
	if err != nil {
		return err
	}
	state.Running = false
	return SaveState(stateDir, *state)
}

// SetupLogger creates a file-based logger, falling back to stderr.
func SetupLogger(logFile string) *log.Logger {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return log.New(os.Stderr, "[ticketsync] ", log.LstdFlags)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stderr, "[ticketsync] ", log.LstdFlags)
	}

	return log.New(file, "[ticketsync] ", log.LstdFlags)
}

func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}

func terminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Signal(os.Interrupt)
}
