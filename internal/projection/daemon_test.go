package projection

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

func TestSaveAndLoadState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	want := State{
		Running:     true,
		PID:         1234,
		InstanceID:  "abc",
		Destination: "-1001/7",
		StartedAt:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		LastTick:    time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC),
		TickCount:   5,
		ErrorCount:  1,
		Tracked:     3,
	}
	if err := SaveState(dir, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if _, err := os.Stat(StatePath(dir) + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp state file left behind: %v", err)
	}

	got, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if *got != want {
		t.Errorf("LoadState = %+v, want %+v", *got, want)
	}

	if err := MarkStopped(dir); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	got, _ = LoadState(dir)
	if got.Running {
		t.Error("Running = true after MarkStopped")
	}
}

func TestLoadStateMissingIsZero(t *testing.T) {
	got, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Running || got.PID != 0 {
		t.Errorf("LoadState = %+v, want zero state", *got)
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(StatePath(dir), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(dir); err == nil {
		t.Error("LoadState succeeded on a corrupt file")
	}
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	running, _, err := IsRunning(dir)
	if err != nil || running {
		t.Fatalf("IsRunning without pid file = %v, %v", running, err)
	}

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	running, pid, err := IsRunning(dir)
	if err != nil || !running || pid != os.Getpid() {
		t.Errorf("IsRunning = %v, %d, %v; want true, %d", running, pid, err, os.Getpid())
	}

	RemovePID(dir)
	if _, err := os.Stat(PIDPath(dir)); !os.IsNotExist(err) {
		t.Errorf("pid file still present after RemovePID")
	}
}

func TestIsRunningRemovesStalePID(t *testing.T) {
	dir := t.TempDir()
	// Far above any default pid_max.
	if err := os.WriteFile(PIDPath(dir), []byte(strconv.Itoa(1<<30)), 0644); err != nil {
		t.Fatal(err)
	}
	running, _, err := IsRunning(dir)
	if err != nil || running {
		t.Errorf("IsRunning = %v, %v; want false, nil", running, err)
	}
	if _, err := os.Stat(PIDPath(dir)); !os.IsNotExist(err) {
		t.Error("stale pid file not removed")
	}
}

func TestStopDaemonNotRunning(t *testing.T) {
	if err := StopDaemon(t.TempDir()); err == nil {
		t.Error("StopDaemon succeeded with no daemon")
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	dest := ticket.Destination{ChatID: -1001, TopicID: 7}

	first, err := AcquireLock(dir, dest)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if filepath.Base(first.Path()) != "ticketsync-m1001_7.lock" {
		t.Errorf("lock path = %q", first.Path())
	}

	if _, err := AcquireLock(dir, dest); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireLock error = %v, want ErrLocked", err)
	}

	other, err := AcquireLock(dir, ticket.Destination{ChatID: -1001})
	if err != nil {
		t.Errorf("lock for another destination: %v", err)
	} else {
		_ = other.Unlock()
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	again, err := AcquireLock(dir, dest)
	if err != nil {
		t.Fatalf("AcquireLock after unlock: %v", err)
	}
	_ = again.Unlock()
}
