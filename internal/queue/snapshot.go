package queue

import (
	"container/list"
	"time"

	"github.com/google/uuid"

	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// SnapshotVersion is the current QueueSnapshot schema version understood by
// Restore. Any other version found on disk is treated as unparseable.
const SnapshotVersion = 1

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func serializeTask(t *v1.Task) v1.SerializedTask {
	return v1.SerializedTask{
		ID:          t.ID,
		Type:        t.Type,
		Priority:    t.Priority,
		Payload:     t.Payload,
		Config:      t.Config,
		Status:      t.Status,
		DisplayName: t.DisplayName,
		CreatedAt:   toMillis(t.CreatedAt),
		StartedAt:   toMillisPtr(t.StartedAt),
		CompletedAt: toMillisPtr(t.CompletedAt),
		Error:       t.Error,
	}
}

func deserializeTask(s v1.SerializedTask) *v1.Task {
	return &v1.Task{
		ID:          s.ID,
		Type:        s.Type,
		Priority:    s.Priority,
		Payload:     s.Payload,
		Config:      s.Config,
		Status:      s.Status,
		DisplayName: s.DisplayName,
		CreatedAt:   fromMillis(s.CreatedAt),
		StartedAt:   fromMillisPtr(s.StartedAt),
		CompletedAt: fromMillisPtr(s.CompletedAt),
		Error:       s.Error,
	}
}

// Snapshot serializes the current queue state for persistence: pending holds
// every queued or running task, history holds the bounded terminal deque.
func (q *TaskQueueManager) Snapshot() v1.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]v1.SerializedTask, 0, len(q.index)-len(q.history))
	for _, p := range classOrder {
		for el := q.classes[p].Front(); el != nil; el = el.Next() {
			pending = append(pending, serializeTask(el.Value.(*v1.Task)))
		}
	}
	for _, t := range q.running {
		pending = append(pending, serializeTask(t))
	}

	history := make([]v1.SerializedTask, 0, len(q.history))
	if len(q.history) > q.cfg.MaxHistorySize {
		history = append(history, toSerializedSlice(q.history[len(q.history)-q.cfg.MaxHistorySize:])...)
	} else {
		history = append(history, toSerializedSlice(q.history)...)
	}

	return v1.QueueSnapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Pending: pending,
		History: history,
	}
}

func toSerializedSlice(tasks []*v1.Task) []v1.SerializedTask {
	out := make([]v1.SerializedTask, len(tasks))
	for i, t := range tasks {
		out[i] = serializeTask(t)
	}
	return out
}

// Restore replaces the queue's current in-memory state with the contents of
// a snapshot, following the crash-recovery rules: pending tasks that were
// `queued` are re-enqueued with new ids, preserving priority/payload/config/
// displayName/createdAt; pending tasks that were `running` are written
// directly into history as `failed` with a restart reason; history entries
// are restored verbatim. An unrecognized version leaves the queue empty.
func (q *TaskQueueManager) Restore(snapshot v1.QueueSnapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range classOrder {
		q.classes[p] = list.New()
	}
	q.index = make(map[string]*entry)
	q.running = make(map[string]*v1.Task)
	q.history = make([]*v1.Task, 0, len(snapshot.History))

	if snapshot.Version != SnapshotVersion {
		return
	}

	for _, s := range snapshot.Pending {
		switch s.Status {
		case v1.TaskStatusQueued:
			task := deserializeTask(s)
			task.ID = uuid.New().String()
			elem := q.classes[task.Priority].PushBack(task)
			q.index[task.ID] = &entry{task: task, elem: elem}
		case v1.TaskStatusRunning:
			task := deserializeTask(s)
			now := time.Now()
			task.Status = v1.TaskStatusFailed
			task.CompletedAt = &now
			task.Error = "Server restarted while task was running"
			q.appendHistory(task)
		}
	}

	for _, s := range snapshot.History {
		q.appendHistory(deserializeTask(s))
	}
}
