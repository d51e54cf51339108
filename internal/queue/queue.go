// Package queue implements the Task Queue Manager: a priority-ordered,
// persistently-restorable queue of pending AI-invocation tasks.
package queue

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdlabs/queuecore/internal/common/logger"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

var (
	// ErrQueueFull is returned when enqueue would exceed maxQueueSize.
	ErrQueueFull = errors.New("queue is full")
	// ErrTaskNotFound is returned when an operation references an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when an operation is not valid for a
	// task's current status (e.g. reordering a running task).
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// classOrder is the priority order used by peekNext and getPosition: any
// high-priority task is considered before any normal/low task.
var classOrder = []v1.Priority{v1.PriorityHigh, v1.PriorityNormal, v1.PriorityLow}

// RunningCancelHandler is invoked when Cancel is called on a task that is
// currently running. It is the Queue Executor's hook for signalling the
// backend (SDK abort or CLI kill); the Queue itself never talks to backends.
type RunningCancelHandler func(taskID string)

// Listener receives queue change events in the order the mutations occurred.
type Listener func(v1.QueueEvent)

type entry struct {
	task *v1.Task
	elem *list.Element // element within its priority class list, nil once dequeued
}

// Config holds the Task Queue Manager's tunables, mirroring the `queue.*`
// configuration keys.
type Config struct {
	DefaultPriority v1.Priority
	MaxQueueSize    int
	KeepHistory     bool
	MaxHistorySize  int
}

// TaskQueueManager is the ordered multiset of pending tasks with priority
// classes described in the Task Queue Core component.
type TaskQueueManager struct {
	mu sync.Mutex

	cfg    Config
	logger *logger.Logger

	classes map[v1.Priority]*list.List
	index   map[string]*entry
	running map[string]*v1.Task

	history    []*v1.Task
	paused     bool
	cancelFunc RunningCancelHandler

	listeners   map[int]Listener
	nextListenerID int
}

// New constructs a TaskQueueManager with the given configuration.
func New(cfg Config, log *logger.Logger) *TaskQueueManager {
	if cfg.DefaultPriority == "" {
		cfg.DefaultPriority = v1.PriorityNormal
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 100
	}
	q := &TaskQueueManager{
		cfg:     cfg,
		logger:  log,
		classes: make(map[v1.Priority]*list.List, len(classOrder)),
		index:   make(map[string]*entry),
		running: make(map[string]*v1.Task),
		history: make([]*v1.Task, 0),
		listeners: make(map[int]Listener),
	}
	for _, p := range classOrder {
		q.classes[p] = list.New()
	}
	return q
}

// SetRunningCancelHandler registers the Queue Executor's cancellation hook.
func (q *TaskQueueManager) SetRunningCancelHandler(fn RunningCancelHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelFunc = fn
}

// OnChange registers a listener and returns an unsubscribe function.
func (q *TaskQueueManager) OnChange(fn Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextListenerID
	q.nextListenerID++
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

// emit must be called without holding q.mu.
func (q *TaskQueueManager) emit(evt v1.QueueEvent) {
	q.mu.Lock()
	listeners := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		listeners = append(listeners, l)
	}
	q.mu.Unlock()
	for _, l := range listeners {
		l(evt)
	}
}

func normalizePriority(p v1.Priority, def v1.Priority) v1.Priority {
	switch p {
	case v1.PriorityHigh, v1.PriorityNormal, v1.PriorityLow:
		return p
	default:
		return def
	}
}

// Enqueue adds a new task, assigning it an id and createdAt.
func (q *TaskQueueManager) Enqueue(input v1.TaskInput) (string, error) {
	q.mu.Lock()
	queued := 0
	for _, class := range q.classes {
		queued += class.Len()
	}
	if q.cfg.MaxQueueSize > 0 && queued >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return "", ErrQueueFull
	}

	priority := normalizePriority(input.Priority, q.cfg.DefaultPriority)
	task := &v1.Task{
		ID:          uuid.New().String(),
		Type:        input.Type,
		Priority:    priority,
		Payload:     input.Payload,
		Config:      input.Config,
		Status:      v1.TaskStatusQueued,
		DisplayName: input.DisplayName,
		CreatedAt:   time.Now(),
	}
	elem := q.classes[priority].PushBack(task)
	q.index[task.ID] = &entry{task: task, elem: elem}
	q.mu.Unlock()

	q.emit(v1.QueueEvent{Type: v1.QueueEventEnqueued, TaskID: task.ID, Task: task})
	return task.ID, nil
}

// EnqueueBatch enqueues multiple tasks, returning their assigned ids in order.
func (q *TaskQueueManager) EnqueueBatch(inputs []v1.TaskInput) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		id, err := q.Enqueue(in)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PeekNext returns the oldest task in the highest non-empty priority class
// without removing it. It returns (nil, false) when paused or empty.
func (q *TaskQueueManager) PeekNext() (*v1.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return nil, false
	}
	for _, p := range classOrder {
		if front := q.classes[p].Front(); front != nil {
			return front.Value.(*v1.Task), true
		}
	}
	return nil, false
}

// SetProcessID records the Process Registry id the Executor created for a
// running task, so callers can cross-reference task and process.
func (q *TaskQueueManager) SetProcessID(id, processID string) {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	e.task.ProcessID = processID
	q.mu.Unlock()
}

// MarkStarted transitions a queued task to running, removing it from its
// priority class and recording startedAt.
func (q *TaskQueueManager) MarkStarted(id string) error {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok || e.task.Status != v1.TaskStatusQueued {
		q.mu.Unlock()
		return ErrInvalidTransition
	}
	q.classes[e.task.Priority].Remove(e.elem)
	e.elem = nil
	now := time.Now()
	e.task.Status = v1.TaskStatusRunning
	e.task.StartedAt = &now
	q.running[id] = e.task
	task := e.task
	q.mu.Unlock()

	q.emit(v1.QueueEvent{Type: v1.QueueEventStarted, TaskID: id, Task: task})
	return nil
}

// appendHistory appends task to the bounded history deque, trimming the
// oldest entries (and their index references) once maxHistorySize is
// exceeded. Must be called while holding q.mu.
func (q *TaskQueueManager) appendHistory(task *v1.Task) {
	q.history = append(q.history, task)
	if len(q.history) > q.cfg.MaxHistorySize {
		overflow := len(q.history) - q.cfg.MaxHistorySize
		for _, dropped := range q.history[:overflow] {
			delete(q.index, dropped.ID)
		}
		q.history = q.history[overflow:]
	}
}

func (q *TaskQueueManager) finishRunning(id string, status v1.TaskStatus, taskErr string) (*v1.Task, error) {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok || e.task.Status != v1.TaskStatusRunning {
		q.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	now := time.Now()
	e.task.Status = status
	e.task.CompletedAt = &now
	e.task.Error = taskErr
	delete(q.running, id)

	if q.cfg.KeepHistory {
		q.appendHistory(e.task)
	} else {
		delete(q.index, id)
	}
	task := e.task
	q.mu.Unlock()
	return task, nil
}

// MarkCompleted transitions a running task to completed.
func (q *TaskQueueManager) MarkCompleted(id string) error {
	task, err := q.finishRunning(id, v1.TaskStatusCompleted, "")
	if err != nil {
		return err
	}
	q.emit(v1.QueueEvent{Type: v1.QueueEventCompleted, TaskID: id, Task: task})
	return nil
}

// MarkFailed transitions a running task to failed with the given error.
func (q *TaskQueueManager) MarkFailed(id string, taskErr string) error {
	task, err := q.finishRunning(id, v1.TaskStatusFailed, taskErr)
	if err != nil {
		return err
	}
	q.emit(v1.QueueEvent{Type: v1.QueueEventFailed, TaskID: id, Task: task})
	return nil
}

// MarkCancelled transitions a running task to cancelled.
func (q *TaskQueueManager) MarkCancelled(id string) error {
	task, err := q.finishRunning(id, v1.TaskStatusCancelled, "cancelled")
	if err != nil {
		return err
	}
	q.emit(v1.QueueEvent{Type: v1.QueueEventCancelled, TaskID: id, Task: task})
	return nil
}

// Cancel cancels a queued or running task. A queued task is cancelled
// synchronously. A running task's cancellation is delegated to the
// RunningCancelHandler (the Executor); the task itself transitions to
// cancelled only once the Executor calls MarkCancelled after observing the
// backend's cancel outcome.
func (q *TaskQueueManager) Cancel(id string) error {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}

	switch e.task.Status {
	case v1.TaskStatusQueued:
		q.classes[e.task.Priority].Remove(e.elem)
		now := time.Now()
		e.task.Status = v1.TaskStatusCancelled
		e.task.CompletedAt = &now
		task := e.task
		if q.cfg.KeepHistory {
			q.appendHistory(task)
		} else {
			delete(q.index, id)
		}
		q.mu.Unlock()
		q.emit(v1.QueueEvent{Type: v1.QueueEventCancelled, TaskID: id, Task: task})
		return nil
	case v1.TaskStatusRunning:
		handler := q.cancelFunc
		q.mu.Unlock()
		if handler != nil {
			handler(id)
		}
		return nil
	default:
		q.mu.Unlock()
		return ErrInvalidTransition
	}
}

func (q *TaskQueueManager) move(id string, shift func(l *list.List, e *list.Element)) error {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok || e.task.Status != v1.TaskStatusQueued {
		q.mu.Unlock()
		return ErrInvalidTransition
	}
	shift(q.classes[e.task.Priority], e.elem)
	q.mu.Unlock()
	q.emit(v1.QueueEvent{Type: v1.QueueEventReordered, TaskID: id})
	return nil
}

// MoveToTop moves a queued task to the head of its priority class.
func (q *TaskQueueManager) MoveToTop(id string) error {
	return q.move(id, func(l *list.List, e *list.Element) {
		l.MoveToFront(e)
	})
}

// MoveUp moves a queued task one position earlier within its priority class.
// A no-op if already at the front.
func (q *TaskQueueManager) MoveUp(id string) error {
	return q.move(id, func(l *list.List, e *list.Element) {
		if prev := e.Prev(); prev != nil {
			l.MoveBefore(e, prev)
		}
	})
}

// MoveDown moves a queued task one position later within its priority class.
// A no-op if already at the back.
func (q *TaskQueueManager) MoveDown(id string) error {
	return q.move(id, func(l *list.List, e *list.Element) {
		if next := e.Next(); next != nil {
			l.MoveAfter(e, next)
		}
	})
}

// Clear removes all queued tasks; running tasks are untouched.
func (q *TaskQueueManager) Clear() {
	q.mu.Lock()
	for _, p := range classOrder {
		l := q.classes[p]
		for e := l.Front(); e != nil; {
			next := e.Next()
			task := e.Value.(*v1.Task)
			delete(q.index, task.ID)
			e = next
		}
		q.classes[p] = list.New()
	}
	q.mu.Unlock()
	q.emit(v1.QueueEvent{Type: v1.QueueEventCleared})
}

// Pause stops peekNext from returning tasks until Resume is called.
func (q *TaskQueueManager) Pause() {
	q.mu.Lock()
	already := q.paused
	q.paused = true
	q.mu.Unlock()
	if !already {
		q.emit(v1.QueueEvent{Type: v1.QueueEventPaused})
	}
}

// Resume re-enables peekNext.
func (q *TaskQueueManager) Resume() {
	q.mu.Lock()
	was := q.paused
	q.paused = false
	q.mu.Unlock()
	if was {
		q.emit(v1.QueueEvent{Type: v1.QueueEventResumed})
	}
}

// IsPaused reports the queue's pause state.
func (q *TaskQueueManager) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// GetPosition returns the 1-based position of a queued task among all queued
// tasks across classes, ordered high then normal then low. Returns 0 if the
// task is not currently queued.
func (q *TaskQueueManager) GetPosition(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[id]
	if !ok || e.task.Status != v1.TaskStatusQueued {
		return 0
	}
	pos := 0
	for _, p := range classOrder {
		l := q.classes[p]
		for el := l.Front(); el != nil; el = el.Next() {
			pos++
			if el == e.elem {
				return pos
			}
		}
	}
	return 0
}

// Stats returns current counts by status plus the pause flag.
func (q *TaskQueueManager) Stats() v1.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := v1.QueueStats{IsPaused: q.paused}
	for _, p := range classOrder {
		stats.Queued += q.classes[p].Len()
	}
	stats.Running = len(q.running)
	for _, t := range q.history {
		switch t.Status {
		case v1.TaskStatusCompleted:
			stats.Completed++
		case v1.TaskStatusFailed:
			stats.Failed++
		case v1.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// GetQueued returns all queued tasks ordered high then normal then low.
func (q *TaskQueueManager) GetQueued() []*v1.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*v1.Task, 0, len(q.index))
	for _, p := range classOrder {
		l := q.classes[p]
		for el := l.Front(); el != nil; el = el.Next() {
			result = append(result, el.Value.(*v1.Task))
		}
	}
	return result
}

// GetRunning returns all currently running tasks.
func (q *TaskQueueManager) GetRunning() []*v1.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*v1.Task, 0, len(q.running))
	for _, t := range q.running {
		result = append(result, t)
	}
	return result
}

// GetHistory returns the bounded history deque, oldest first.
func (q *TaskQueueManager) GetHistory() []*v1.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*v1.Task, len(q.history))
	copy(result, q.history)
	return result
}

// GetTask returns a task by id, searching queued, running, and history.
func (q *TaskQueueManager) GetTask(id string) (*v1.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.index[id]; ok {
		return e.task, true
	}
	for _, t := range q.history {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
