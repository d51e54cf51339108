// Package monitor implements the Process Monitor: detection of OS-level
// process termination by PID. A single internal timer polls every
// registered pid in one tick rather than spawning one goroutine per watch.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

const defaultPollInterval = 2 * time.Second

// OnTerminated is invoked exactly once when a watched pid is found to no
// longer be running.
type OnTerminated func(key string)

type watch struct {
	key          string
	pid          int
	onTerminated OnTerminated
}

// Monitor polls a set of registered pids on a single shared timer.
type Monitor struct {
	mu      sync.Mutex
	watches map[string]watch

	interval time.Duration
	timer    *time.Timer
	stopped  bool

	logger *logger.Logger
}

// New constructs a Monitor. interval <= 0 uses the 2-second default.
func New(interval time.Duration, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	m := &Monitor{
		watches:  make(map[string]watch),
		interval: interval,
		logger:   log,
	}
	m.timer = time.AfterFunc(interval, m.tick)
	return m
}

// StartMonitoring registers a watch on pid under key. A pre-existing watch
// for the same key is replaced.
func (m *Monitor) StartMonitoring(key string, pid int, onTerminated OnTerminated) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.watches[key] = watch{key: key, pid: pid, onTerminated: onTerminated}
}

// StopMonitoring removes a watch silently, whether or not it fired.
func (m *Monitor) StopMonitoring(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, key)
}

// Close cancels the timer and drops all watches without firing callbacks.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.timer.Stop()
	m.watches = make(map[string]watch)
}

// tick runs on the shared timer; it checks every registered pid once, fires
// onTerminated for those no longer running, removes them, and reschedules.
func (m *Monitor) tick() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	var fired []watch
	for key, w := range m.watches {
		status, err := IsProcessRunning(w.pid)
		if err != nil {
			m.logger.Warn("process monitor: probe failed", zap.Int("pid", w.pid), zap.Error(err))
			continue
		}
		if !status.Running {
			fired = append(fired, w)
			delete(m.watches, key)
		}
	}
	m.timer.Reset(m.interval)
	m.mu.Unlock()

	for _, w := range fired {
		w.onTerminated(w.key)
	}
}
