package registry

import (
	"sort"
	"time"

	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// SnapshotVersion is the current registry snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the on-disk shape of the registry: a flat map of every
// tracked process, keyed by id.
type Snapshot struct {
	Version   int                                 `json:"version"`
	SavedAt   time.Time                           `json:"savedAt"`
	Processes map[string]v1.SerializedProcess      `json:"processes"`
}

func serializeProcess(p *v1.Process) v1.SerializedProcess {
	s := v1.SerializedProcess{
		ID:               p.ID,
		Type:             p.Type,
		Status:           p.Status,
		PromptPreview:    p.PromptPreview,
		FullPrompt:       p.FullPrompt,
		StartTime:        p.StartTime.Format(time.RFC3339Nano),
		Result:           p.Result,
		StructuredResult: p.StructuredResult,
		Error:            p.Error,
		ParentProcessID:  p.ParentProcessID,
		Metadata:         p.Metadata,
		GroupMetadata:    p.GroupMetadata,
		SdkSessionID:     p.SdkSessionID,
		Backend:          p.Backend,
		WorkingDirectory: p.WorkingDirectory,
		RawStdoutFile:    p.RawStdoutFile,
		ResultFilePath:   p.ResultFilePath,
	}
	if p.EndTime != nil {
		s.EndTime = p.EndTime.Format(time.RFC3339Nano)
	}
	return s
}

func deserializeProcess(s v1.SerializedProcess) *v1.Process {
	p := &v1.Process{
		ID:               s.ID,
		Type:             s.Type,
		Status:           s.Status,
		PromptPreview:    s.PromptPreview,
		FullPrompt:       s.FullPrompt,
		Result:           s.Result,
		StructuredResult: s.StructuredResult,
		Error:            s.Error,
		ParentProcessID:  s.ParentProcessID,
		Metadata:         s.Metadata,
		GroupMetadata:    s.GroupMetadata,
		SdkSessionID:     s.SdkSessionID,
		Backend:          s.Backend,
		WorkingDirectory: s.WorkingDirectory,
		RawStdoutFile:    s.RawStdoutFile,
		ResultFilePath:   s.ResultFilePath,
	}
	if t, err := time.Parse(time.RFC3339Nano, s.StartTime); err == nil {
		p.StartTime = t
	}
	if s.EndTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, s.EndTime); err == nil {
			p.EndTime = &t
		}
	}
	return p
}

// Snapshot serializes the current registry state for persistence. Running
// processes are always kept; terminal ones are pruned to the most recently
// finished cfg.HistoryLimit, mirroring the Task Queue's history trim.
func (m *AIProcessManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make(map[string]*v1.Process, len(m.processes))
	type terminalEntry struct {
		id  string
		end time.Time
	}
	terminal := make([]terminalEntry, 0, len(m.processes))

	for id, p := range m.processes {
		if !p.Status.IsTerminal() {
			kept[id] = p
			continue
		}
		end := p.StartTime
		if p.EndTime != nil {
			end = *p.EndTime
		}
		terminal = append(terminal, terminalEntry{id: id, end: end})
	}

	sort.Slice(terminal, func(i, j int) bool { return terminal[i].end.After(terminal[j].end) })
	if len(terminal) > m.cfg.HistoryLimit {
		terminal = terminal[:m.cfg.HistoryLimit]
	}
	for _, e := range terminal {
		kept[e.id] = m.processes[e.id]
	}

	out := make(map[string]v1.SerializedProcess, len(kept))
	for id, p := range kept {
		out[id] = serializeProcess(p)
	}
	return Snapshot{Version: SnapshotVersion, SavedAt: time.Now(), Processes: out}
}

// Restore replaces the registry's in-memory state with the contents of a
// snapshot. Any process that was running at save time is marked failed with
// a restart reason and endTime = now, matching crash-recovery semantics. An
// unrecognized version leaves the registry empty.
func (m *AIProcessManager) Restore(snapshot Snapshot) {
	m.mu.Lock()
	m.processes = make(map[string]*v1.Process)
	m.children = make(map[string][]string)

	if snapshot.Version != SnapshotVersion {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	for id, s := range snapshot.Processes {
		p := deserializeProcess(s)
		if p.Status == v1.ProcessStatusRunning {
			p.Status = v1.ProcessStatusFailed
			p.Error = reasonRestartedWhileRun
			p.EndTime = &now
		}
		m.processes[id] = p
	}
	for id, p := range m.processes {
		if p.ParentProcessID != "" {
			m.children[p.ParentProcessID] = append(m.children[p.ParentProcessID], id)
		}
	}
	m.mu.Unlock()
}
