package v1

import "time"

// Priority is one of the three independently-FIFO classes the Task Queue
// Manager schedules against.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// TaskStatus is the lifecycle state of a queued unit of AI work.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskPayload carries the backend-facing inputs for a task. Exactly one of
// PromptFile / PromptContent is expected to be meaningful for a given task
// type; both are kept on one struct (rather than a sum type) since Go has no
// tagged union and the caller-facing JSON shape is simpler this way.
type TaskPayload struct {
	PromptFilePath   string                 `json:"promptFilePath,omitempty"`
	PromptContent    string                 `json:"promptContent,omitempty"`
	WorkingDirectory string                 `json:"workingDirectory,omitempty"`
	SkillName        string                 `json:"skillName,omitempty"`
	Model            string                 `json:"model,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
}

// TaskConfig holds per-task execution configuration.
type TaskConfig struct {
	Model     string `json:"model,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Task is a unit of AI work scheduled through the Queue.
type Task struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Priority    Priority    `json:"priority"`
	Payload     TaskPayload `json:"payload"`
	Config      TaskConfig  `json:"config"`
	Status      TaskStatus  `json:"status"`
	DisplayName string      `json:"displayName,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	ProcessID   string      `json:"processId,omitempty"`
}

// TaskInput is the caller-supplied shape for Enqueue; id/createdAt/status are
// assigned by the Queue.
type TaskInput struct {
	Type        string      `json:"type"`
	Priority    Priority    `json:"priority,omitempty"`
	Payload     TaskPayload `json:"payload"`
	Config      TaskConfig  `json:"config,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
}

// SerializedTask is the on-disk shape of a Task within a QueueSnapshot.
// Timestamps are persisted as epoch milliseconds per the External Interfaces
// contract, rather than as time.Time, so round-tripping is exact and
// independent of the JSON time.Time layout.
type SerializedTask struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Priority    Priority    `json:"priority"`
	Payload     TaskPayload `json:"payload"`
	Config      TaskConfig  `json:"config"`
	Status      TaskStatus  `json:"status"`
	DisplayName string      `json:"displayName,omitempty"`
	CreatedAt   int64       `json:"createdAt"`
	StartedAt   *int64      `json:"startedAt,omitempty"`
	CompletedAt *int64      `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// QueueSnapshot is the persisted form of the Task Queue Manager's state.
type QueueSnapshot struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"savedAt"`
	Pending []SerializedTask `json:"pending"`
	History []SerializedTask `json:"history"`
}

// QueueStats summarizes the queue's current counts by status.
type QueueStats struct {
	Queued    int  `json:"queued"`
	Running   int  `json:"running"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Cancelled int  `json:"cancelled"`
	IsPaused  bool `json:"isPaused"`
}

// QueueEventType enumerates the change events the Task Queue Manager emits.
type QueueEventType string

const (
	QueueEventEnqueued  QueueEventType = "enqueued"
	QueueEventStarted   QueueEventType = "started"
	QueueEventCompleted QueueEventType = "completed"
	QueueEventFailed    QueueEventType = "failed"
	QueueEventCancelled QueueEventType = "cancelled"
	QueueEventReordered QueueEventType = "reordered"
	QueueEventPaused    QueueEventType = "paused"
	QueueEventResumed   QueueEventType = "resumed"
	QueueEventCleared   QueueEventType = "cleared"
)

// QueueEvent is the payload delivered to Task Queue Manager onChange listeners.
type QueueEvent struct {
	Type   QueueEventType `json:"type"`
	TaskID string         `json:"taskId,omitempty"`
	Task   *Task          `json:"task,omitempty"`
}
