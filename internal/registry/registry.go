// Package registry implements the Process Registry: the authoritative
// in-memory map of Process records tracking AI invocations and invocation
// groups, with change events and crash-recovery persistence.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdlabs/queuecore/internal/common/logger"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// ErrProcessNotFound is returned by operations that require an existing id.
var ErrProcessNotFound = errors.New("process not found")

const (
	backendCopilotSDK        = "copilot-sdk"
	reasonParentCancelled    = "parent cancelled"
	reasonRestartedWhileRun  = "Extension restarted while process was running"
)

// Listener receives registry change events in mutation order.
type Listener func(v1.ProcessEvent)

// Config holds Process Registry construction options.
type Config struct {
	// HistoryLimit caps how many terminal (completed/failed/cancelled)
	// processes survive into a persisted snapshot; the most recently
	// finished HistoryLimit processes are kept, older ones are dropped.
	// Running processes are never pruned. Zero uses a default of 100.
	HistoryLimit int
}

// AIProcessManager is the Process Registry described in the design: it
// owns every Process record, enforces the parent/child invariants, and
// notifies listeners of every mutation.
type AIProcessManager struct {
	mu sync.Mutex

	cfg    Config
	logger *logger.Logger

	processes map[string]*v1.Process
	children  map[string][]string // parentId -> child ids, insertion order

	listeners      map[int]Listener
	nextListenerID int
}

// New constructs an empty AIProcessManager.
func New(cfg Config, log *logger.Logger) *AIProcessManager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &AIProcessManager{
		cfg:       cfg,
		logger:    log,
		processes: make(map[string]*v1.Process),
		children:  make(map[string][]string),
		listeners: make(map[int]Listener),
	}
}

// OnChange registers a listener and returns an unsubscribe function.
func (m *AIProcessManager) OnChange(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *AIProcessManager) emit(evt v1.ProcessEvent) {
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

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Register creates a new process with status running.
func (m *AIProcessManager) Register(prompt string, opts v1.RegisterOptions) string {
	return m.register(prompt, opts, false)
}

// RegisterGroup creates a new process whose groupMetadata.childProcessIds is
// initialized empty, marking it as a group parent.
func (m *AIProcessManager) RegisterGroup(prompt string, opts v1.RegisterOptions) string {
	return m.register(prompt, opts, true)
}

func (m *AIProcessManager) register(prompt string, opts v1.RegisterOptions, group bool) string {
	process := &v1.Process{
		ID:               uuid.New().String(),
		Type:             opts.Type,
		Status:           v1.ProcessStatusRunning,
		PromptPreview:    previewOf(prompt),
		FullPrompt:       prompt,
		StartTime:        time.Now(),
		ParentProcessID:  opts.ParentProcessID,
		Metadata:         cloneMap(opts.Metadata),
		Backend:          opts.Backend,
		WorkingDirectory: opts.WorkingDirectory,
	}
	if group {
		process.GroupMetadata = &v1.GroupMetadata{ChildProcessIDs: []string{}}
	}

	m.mu.Lock()
	m.processes[process.ID] = process
	if opts.ParentProcessID != "" {
		m.children[opts.ParentProcessID] = append(m.children[opts.ParentProcessID], process.ID)
		if parent, ok := m.processes[opts.ParentProcessID]; ok && parent.GroupMetadata != nil {
			parent.GroupMetadata.ChildProcessIDs = append(parent.GroupMetadata.ChildProcessIDs, process.ID)
		}
	}
	m.mu.Unlock()

	m.emit(v1.ProcessEvent{Type: v1.ProcessEventAdded, Process: process})
	return process.ID
}

func previewOf(prompt string) string {
	const maxLen = 120
	if len(prompt) <= maxLen {
		return prompt
	}
	return prompt[:maxLen] + "..."
}

// AttachChild links an existing child to an existing group parent, setting
// the child's parentProcessId atomically.
func (m *AIProcessManager) AttachChild(parentID, childID string) error {
	m.mu.Lock()
	parent, ok := m.processes[parentID]
	if !ok {
		m.mu.Unlock()
		return ErrProcessNotFound
	}
	child, ok := m.processes[childID]
	if !ok {
		m.mu.Unlock()
		return ErrProcessNotFound
	}
	child.ParentProcessID = parentID
	m.children[parentID] = append(m.children[parentID], childID)
	if parent.GroupMetadata != nil {
		parent.GroupMetadata.ChildProcessIDs = append(parent.GroupMetadata.ChildProcessIDs, childID)
	}
	m.mu.Unlock()

	m.emit(v1.ProcessEvent{Type: v1.ProcessEventUpdated, Process: child})
	return nil
}

// update applies a terminal or in-place transition. Only transitions from
// running are accepted; unknown ids and non-running sources are no-ops,
// matching the "fails silently" contract.
func (m *AIProcessManager) update(id string, status v1.ProcessStatus, result string, structuredResult map[string]interface{}, taskErr string) {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok || p.Status != v1.ProcessStatusRunning {
		m.mu.Unlock()
		return
	}
	p.Status = status
	if result != "" {
		p.Result = result
	}
	if structuredResult != nil {
		p.StructuredResult = structuredResult
	}
	if taskErr != "" {
		p.Error = taskErr
	}
	if status.IsTerminal() {
		now := time.Now()
		p.EndTime = &now
	}
	m.mu.Unlock()

	m.emit(v1.ProcessEvent{Type: v1.ProcessEventUpdated, Process: p})
}

// Update is the general-purpose transition; status must be a terminal status
// or remain running is meaningless, so callers normally use
// Complete/Fail/Cancel instead.
func (m *AIProcessManager) Update(id string, status v1.ProcessStatus, result string, taskErr string) {
	m.update(id, status, result, nil, taskErr)
}

// Complete transitions a running process to completed.
func (m *AIProcessManager) Complete(id string, result string, structuredResult map[string]interface{}) {
	m.update(id, v1.ProcessStatusCompleted, result, structuredResult, "")
}

// Fail transitions a running process to failed.
func (m *AIProcessManager) Fail(id string, taskErr string) {
	m.update(id, v1.ProcessStatusFailed, "", nil, taskErr)
}

// Cancel transitions a running process to cancelled. If id names a group,
// every running child is cancelled first with the parent-cancelled reason,
// each emitting its own process-updated event, before the parent itself
// transitions.
func (m *AIProcessManager) Cancel(id string) {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	childIDs := append([]string(nil), m.children[id]...)
	m.mu.Unlock()

	if p.GroupMetadata != nil {
		for _, childID := range childIDs {
			m.mu.Lock()
			child, ok := m.processes[childID]
			running := ok && child.Status == v1.ProcessStatusRunning
			m.mu.Unlock()
			if running {
				m.update(childID, v1.ProcessStatusCancelled, "", nil, reasonParentCancelled)
			}
		}
	}

	m.update(id, v1.ProcessStatusCancelled, "", nil, "cancelled")
}

// AttachSdkSessionId records the SDK session id for later resume.
func (m *AIProcessManager) AttachSdkSessionId(id, sessionID string) {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.SdkSessionID = sessionID
	m.mu.Unlock()
	m.emit(v1.ProcessEvent{Type: v1.ProcessEventUpdated, Process: p})
}

// AttachSessionMetadata merges metadata into the process's session metadata.
func (m *AIProcessManager) AttachSessionMetadata(id string, metadata map[string]interface{}) {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if p.SessionMetadata == nil {
		p.SessionMetadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		p.SessionMetadata[k] = v
	}
	m.mu.Unlock()
	m.emit(v1.ProcessEvent{Type: v1.ProcessEventUpdated, Process: p})
}

// GetSessionMetadata returns the process's session metadata, if any.
func (m *AIProcessManager) GetSessionMetadata(id string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	if !ok {
		return nil, false
	}
	return cloneMap(p.SessionMetadata), p.SessionMetadata != nil
}

// IsResumable reports whether the process can be resumed: it completed
// successfully on the copilot-sdk backend and carries a session id.
func (m *AIProcessManager) IsResumable(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	if !ok {
		return false
	}
	return p.Status == v1.ProcessStatusCompleted && p.Backend == backendCopilotSDK && p.SdkSessionID != ""
}

// Get returns a process by id.
func (m *AIProcessManager) Get(id string) (*v1.Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	return p, ok
}

// All returns every tracked process, in no particular order.
func (m *AIProcessManager) All() []*v1.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*v1.Process, 0, len(m.processes))
	for _, p := range m.processes {
		out = append(out, p)
	}
	return out
}

// Running returns every process currently running.
func (m *AIProcessManager) Running() []*v1.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*v1.Process, 0)
	for _, p := range m.processes {
		if p.Status == v1.ProcessStatusRunning {
			out = append(out, p)
		}
	}
	return out
}

// TopLevel returns every process with no parent.
func (m *AIProcessManager) TopLevel() []*v1.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*v1.Process, 0)
	for _, p := range m.processes {
		if p.ParentProcessID == "" {
			out = append(out, p)
		}
	}
	return out
}

// Children returns the direct children of groupID, in attach order.
func (m *AIProcessManager) Children(groupID string) []*v1.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.children[groupID]
	out := make([]*v1.Process, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.processes[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Counts summarizes current counts by terminal/running status.
func (m *AIProcessManager) Counts() v1.ProcessCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c v1.ProcessCounts
	for _, p := range m.processes {
		switch p.Status {
		case v1.ProcessStatusRunning:
			c.Running++
		case v1.ProcessStatusCompleted:
			c.Completed++
		case v1.ProcessStatusFailed:
			c.Failed++
		case v1.ProcessStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// HasRunning reports whether any process is currently running.
func (m *AIProcessManager) HasRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.processes {
		if p.Status == v1.ProcessStatusRunning {
			return true
		}
	}
	return false
}

// Remove deletes a single process record (and its membership as a child).
func (m *AIProcessManager) Remove(id string) {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.processes, id)
	delete(m.children, id)
	if p.ParentProcessID != "" {
		siblings := m.children[p.ParentProcessID]
		for i, sid := range siblings {
			if sid == id {
				m.children[p.ParentProcessID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		m.removeFromGroupMetadata(p.ParentProcessID, id)
	}
	m.mu.Unlock()
	m.emit(v1.ProcessEvent{Type: v1.ProcessEventRemoved, Process: p})
}

// removeFromGroupMetadata strips childID out of parentID's
// GroupMetadata.ChildProcessIDs, if the parent still exists and tracks one.
// Callers must hold m.mu.
func (m *AIProcessManager) removeFromGroupMetadata(parentID, childID string) {
	parent, ok := m.processes[parentID]
	if !ok || parent.GroupMetadata == nil {
		return
	}
	ids := parent.GroupMetadata.ChildProcessIDs
	for i, cid := range ids {
		if cid == childID {
			parent.GroupMetadata.ChildProcessIDs = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// ClearCompleted removes every process in a terminal state.
func (m *AIProcessManager) ClearCompleted() {
	m.mu.Lock()
	for id, p := range m.processes {
		if p.Status.IsTerminal() {
			delete(m.processes, id)
			delete(m.children, id)
			if p.ParentProcessID != "" {
				siblings := m.children[p.ParentProcessID]
				for i, sid := range siblings {
					if sid == id {
						m.children[p.ParentProcessID] = append(siblings[:i], siblings[i+1:]...)
						break
					}
				}
				m.removeFromGroupMetadata(p.ParentProcessID, id)
			}
		}
	}
	m.mu.Unlock()
	m.emit(v1.ProcessEvent{Type: v1.ProcessEventsCleared})
}

// ClearAll removes every process record.
func (m *AIProcessManager) ClearAll() {
	m.mu.Lock()
	m.processes = make(map[string]*v1.Process)
	m.children = make(map[string][]string)
	m.mu.Unlock()
	m.emit(v1.ProcessEvent{Type: v1.ProcessEventsCleared})
}
