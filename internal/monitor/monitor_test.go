package monitor

import (
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestIsProcessRunningForSelf(t *testing.T) {
	status, err := IsProcessRunning(os.Getpid())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Running || !status.Exists {
		t.Fatalf("expected self pid to be running, got %+v", status)
	}
}

func TestIsProcessRunningRejectsNonPositivePIDs(t *testing.T) {
	for _, pid := range []int{0, -1, -100} {
		status, err := IsProcessRunning(pid)
		if err != nil {
			t.Fatalf("unexpected error for pid %d: %v", pid, err)
		}
		if status.Running || status.Exists {
			t.Fatalf("pid %d should never be considered running, got %+v", pid, status)
		}
	}
}

func TestStartMonitoringFiresOnceOnTermination(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start helper process: %v", err)
	}
	pid := cmd.Process.Pid

	m := New(20*time.Millisecond, logger.Default())
	defer m.Close()

	var mu sync.Mutex
	fired := 0
	m.StartMonitoring("watch-1", pid, func(key string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("failed to kill helper process: %v", err)
	}
	cmd.Wait()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	})

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("expected callback to fire exactly once, fired %d times", fired)
	}
}

func TestStopMonitoringSuppressesCallback(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start helper process: %v", err)
	}
	pid := cmd.Process.Pid

	m := New(15*time.Millisecond, logger.Default())
	defer m.Close()

	fired := false
	m.StartMonitoring("watch-2", pid, func(key string) {
		fired = true
	})
	m.StopMonitoring("watch-2")

	cmd.Process.Kill()
	cmd.Wait()
	time.Sleep(80 * time.Millisecond)

	if fired {
		t.Fatalf("expected no callback after StopMonitoring")
	}
}

func TestCloseDropsWatchesWithoutFiring(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start helper process: %v", err)
	}
	pid := cmd.Process.Pid

	m := New(15*time.Millisecond, logger.Default())
	fired := false
	m.StartMonitoring("watch-3", pid, func(key string) {
		fired = true
	})

	m.Close()
	cmd.Process.Kill()
	cmd.Wait()
	time.Sleep(60 * time.Millisecond)

	if fired {
		t.Fatalf("expected no callback after Close")
	}
}
