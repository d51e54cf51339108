// Package session implements the Interactive Session Manager: orchestration
// of external-terminal sessions that host long-running interactive AI tools,
// plus the terminal-emulator spawn logic behind it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/monitor"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// Listener receives Interactive Session Manager change events.
type Listener func(v1.SessionEvent)

// Manager tracks InteractiveSession records and launches/monitors the
// detached terminals that host them.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*v1.InteractiveSession

	listeners      map[int]Listener
	nextListenerID int

	monitor *monitor.Monitor
	logger  *logger.Logger
}

// New constructs a Manager. mon is the shared Process Monitor used to detect
// when a session's terminal process exits.
func New(mon *monitor.Monitor, log *logger.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*v1.InteractiveSession),
		listeners: make(map[int]Listener),
		monitor:   mon,
		logger:    log,
	}
}

// OnChange registers a listener and returns a function that unsubscribes it.
func (m *Manager) OnChange(l Listener) func() {
	m.mu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) emit(evt v1.SessionEvent) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(evt)
	}
}

func cloneSession(s *v1.InteractiveSession) *v1.InteractiveSession {
	clone := *s
	return &clone
}

// Start creates a session record in state starting, spawns a detached
// terminal running tool in workingDirectory, and on successful spawn
// transitions it to active and registers a Process Monitor watch. On spawn
// failure it transitions to error; both cases still return the session id,
// except when the record itself could not be created.
func (m *Manager) Start(ctx context.Context, opts v1.StartSessionOptions) (string, error) {
	if opts.WorkingDirectory == "" {
		return "", fmt.Errorf("workingDirectory is required")
	}
	if opts.Tool == "" {
		return "", fmt.Errorf("tool is required")
	}

	id := uuid.New().String()
	sess := &v1.InteractiveSession{
		ID:                id,
		WorkingDirectory:  opts.WorkingDirectory,
		Tool:              opts.Tool,
		PreferredTerminal: opts.PreferredTerminal,
		Status:            v1.SessionStatusStarting,
		StartTime:         time.Now(),
		CustomName:        opts.CustomName,
		InitialPrompt:     opts.InitialPrompt,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	m.emit(v1.SessionEvent{Type: v1.SessionEventStarted, Session: cloneSession(sess)})

	command := commandFor(opts.Tool, opts.InitialPrompt)
	pid, err := launchTerminal(ctx, opts.PreferredTerminal, opts.WorkingDirectory, command)
	if err != nil {
		m.mu.Lock()
		sess.Status = v1.SessionStatusError
		sess.Error = err.Error()
		m.mu.Unlock()
		m.emit(v1.SessionEvent{Type: v1.SessionEventError, Session: cloneSession(sess)})
		m.logger.Warn("interactive session failed to start",
			zap.String("session_id", id), zap.Error(err))
		return id, nil
	}

	m.mu.Lock()
	sess.Pid = pid
	sess.Status = v1.SessionStatusActive
	m.mu.Unlock()
	m.emit(v1.SessionEvent{Type: v1.SessionEventUpdated, Session: cloneSession(sess)})

	if m.monitor != nil {
		m.monitor.StartMonitoring(id, pid, m.handleTerminated)
	}

	return id, nil
}

// handleTerminated is the Process Monitor callback for a session's terminal
// process exiting. It force-ends the session if it is still tracked and
// active.
func (m *Manager) handleTerminated(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status == v1.SessionStatusEnded {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	sess.Status = v1.SessionStatusEnded
	sess.EndTime = &now
	clone := cloneSession(sess)
	m.mu.Unlock()

	m.emit(v1.SessionEvent{Type: v1.SessionEventEnded, Session: clone})
}

// End force-transitions a session to ended and stops its Monitor watch.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", id)
	}
	now := time.Now()
	sess.Status = v1.SessionStatusEnded
	sess.EndTime = &now
	clone := cloneSession(sess)
	m.mu.Unlock()

	if m.monitor != nil {
		m.monitor.StopMonitoring(id)
	}
	m.emit(v1.SessionEvent{Type: v1.SessionEventEnded, Session: clone})
	return nil
}

// Remove deletes a session record. It is a no-op if the session is still
// starting or active.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return
	}
	if sess.Status == v1.SessionStatusStarting || sess.Status == v1.SessionStatusActive {
		return
	}
	delete(m.sessions, id)
}

// Rename edits a session's customName.
func (m *Manager) Rename(id, name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", id)
	}
	sess.CustomName = name
	clone := cloneSession(sess)
	m.mu.Unlock()

	m.emit(v1.SessionEvent{Type: v1.SessionEventUpdated, Session: clone})
	return nil
}

// All returns every tracked session.
func (m *Manager) All() []*v1.InteractiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*v1.InteractiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	return out
}

// Active returns sessions in status starting or active.
func (m *Manager) Active() []*v1.InteractiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*v1.InteractiveSession
	for _, s := range m.sessions {
		if s.Status == v1.SessionStatusStarting || s.Status == v1.SessionStatusActive {
			out = append(out, cloneSession(s))
		}
	}
	return out
}

// Ended returns sessions in status ended or error.
func (m *Manager) Ended() []*v1.InteractiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*v1.InteractiveSession
	for _, s := range m.sessions {
		if s.Status == v1.SessionStatusEnded || s.Status == v1.SessionStatusError {
			out = append(out, cloneSession(s))
		}
	}
	return out
}

// Counts summarizes tracked sessions by status.
func (m *Manager) Counts() v1.SessionCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c v1.SessionCounts
	for _, s := range m.sessions {
		switch s.Status {
		case v1.SessionStatusStarting:
			c.Starting++
		case v1.SessionStatusActive:
			c.Active++
		case v1.SessionStatusEnded:
			c.Ended++
		case v1.SessionStatusError:
			c.Error++
		}
	}
	return c
}

// HasActive reports whether any session is starting or active.
func (m *Manager) HasActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == v1.SessionStatusStarting || s.Status == v1.SessionStatusActive {
			return true
		}
	}
	return false
}

// ClearEnded removes every session in a terminal state (ended or error).
func (m *Manager) ClearEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Status == v1.SessionStatusEnded || s.Status == v1.SessionStatusError {
			delete(m.sessions, id)
		}
	}
}

// commandFor builds the shell command run inside the spawned terminal for a
// given tool and optional initial prompt. initialPrompt is shell-quoted, not
// Go-quoted: a double-quoted Go string still leaves $(...), backticks, and
// $VAR live when the result is handed to sh -c, which would let a caller
// who controls the prompt run arbitrary commands in the spawned terminal.
func commandFor(tool, initialPrompt string) string {
	if initialPrompt == "" {
		return tool
	}
	return tool + " " + shellQuote(initialPrompt)
}
