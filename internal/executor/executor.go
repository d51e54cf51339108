// Package executor implements the Queue Executor: it drives the Task Queue
// Manager under a concurrency cap, invoking a Backend Invoker and bridging
// outcomes into the Process Registry.
package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/registry"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// BackendInvoker is the Executor's view of the Backend Invoker: a single
// call that unifies whichever of the three backends is configured.
type BackendInvoker interface {
	Invoke(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error)
}

// Executor drives queue under a live-adjustable concurrency cap.
type Executor struct {
	mu sync.Mutex

	queue    *queue.TaskQueueManager
	registry *registry.AIProcessManager
	backend  BackendInvoker
	logger   *logger.Logger

	sem            *semaphore.Weighted
	maxConcurrency int64

	runCtx    context.Context
	runCancel context.CancelFunc

	cancelFuncs map[string]context.CancelFunc // taskID -> running invocation's cancel
	cancelMu    sync.Mutex

	// stopped is set under mu by Stop, in the same critical section that
	// scheduleNext uses to guard its final wg.Add(1). That shared lock is
	// what keeps Stop's wg.Wait from racing a runTask goroutine that is
	// still being spawned: either scheduleNext's Add happens first (Wait
	// sees it) or Stop's stopped=true happens first (scheduleNext bails
	// before ever calling Add).
	stopped    bool
	unsubQueue func()
	wg         sync.WaitGroup
}

// semaphoreCeiling is the fixed size the underlying semaphore.Weighted is
// constructed with. Its size can't change after construction, so
// SetMaxConcurrency can only ever adjust the cap within [1, semaphoreCeiling];
// the gap between the live cap and the ceiling is held as permanent "ballast"
// weight (acquired once at New and whenever the cap shrinks), so that growing
// the cap later is a plain Release of real held weight rather than an
// unbacked one that would underflow the semaphore's internal counter.
const semaphoreCeiling = 4096

// New constructs an Executor with the given initial concurrency cap.
func New(q *queue.TaskQueueManager, reg *registry.AIProcessManager, backend BackendInvoker, maxConcurrency int, log *logger.Logger) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if maxConcurrency > semaphoreCeiling {
		maxConcurrency = semaphoreCeiling
	}
	sem := semaphore.NewWeighted(semaphoreCeiling)
	if err := sem.Acquire(context.Background(), semaphoreCeiling-int64(maxConcurrency)); err != nil {
		panic(err) // unreachable: acquiring against a fresh, uncontended semaphore never blocks or errors
	}
	e := &Executor{
		queue:          q,
		registry:       reg,
		backend:        backend,
		logger:         log,
		sem:            sem,
		maxConcurrency: int64(maxConcurrency),
		cancelFuncs:    make(map[string]context.CancelFunc),
	}
	q.SetRunningCancelHandler(e.requestCancel)
	return e
}

// Start begins driving the queue. ctx bounds the Executor's own lifetime;
// cancelling it aborts every in-flight invocation.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.unsubQueue = e.queue.OnChange(func(v1.QueueEvent) {
		e.scheduleNext()
	})
	e.scheduleNext()
}

// Stop cancels every in-flight invocation and stops scheduling new ones.
func (e *Executor) Stop() {
	if e.unsubQueue != nil {
		e.unsubQueue()
	}
	e.mu.Lock()
	e.stopped = true
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// SetMaxConcurrency adjusts the concurrency cap live, clamped to
// [1, semaphoreCeiling]. A shrink takes effect as running tasks free their
// slots; a growth within the ceiling is immediately usable.
func (e *Executor) SetMaxConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	if n > semaphoreCeiling {
		n = semaphoreCeiling
	}
	e.mu.Lock()
	delta := int64(n) - e.maxConcurrency
	e.maxConcurrency = int64(n)
	e.mu.Unlock()

	switch {
	case delta > 0:
		e.sem.Release(delta)
	case delta < 0:
		// Best-effort: acquire the shrink amount so future slots honor the
		// new cap; if capacity is currently exhausted this blocks briefly
		// behind whichever tasks are already running, which is correct
		// (no preemption of running tasks).
		go e.sem.Acquire(context.Background(), -delta)
	}
	e.scheduleNext()
}

// requestCancel is the queue's RunningCancelHandler: it cancels the
// invocation's context so the backend call observes ctx.Done().
func (e *Executor) requestCancel(taskID string) {
	e.cancelMu.Lock()
	cancel, ok := e.cancelFuncs[taskID]
	e.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// scheduleNext launches execution tasks while the queue has pending work,
// the executor is not paused, and a concurrency slot is free.
func (e *Executor) scheduleNext() {
	e.mu.Lock()
	runCtx := e.runCtx
	e.mu.Unlock()
	if runCtx == nil {
		return
	}

	for {
		if runCtx.Err() != nil {
			return
		}
		if !e.sem.TryAcquire(1) {
			return
		}
		task, ok := e.queue.PeekNext()
		if !ok {
			e.sem.Release(1)
			return
		}
		if err := e.queue.MarkStarted(task.ID); err != nil {
			e.sem.Release(1)
			continue
		}

		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			e.sem.Release(1)
			if markErr := e.queue.MarkCancelled(task.ID); markErr != nil {
				e.logger.WithTaskID(task.ID).WithError(markErr).Warn("failed to mark task cancelled during shutdown")
			}
			return
		}
		e.wg.Add(1)
		e.mu.Unlock()

		go e.runTask(runCtx, task)
	}
}

func (e *Executor) runTask(runCtx context.Context, task *v1.Task) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer e.scheduleNext()

	taskLogger := e.logger.WithTaskID(task.ID)

	processID := e.registry.Register(task.Payload.PromptContent, v1.RegisterOptions{
		Type:             "queue-" + task.Type,
		WorkingDirectory: task.Payload.WorkingDirectory,
	})
	e.queue.SetProcessID(task.ID, processID)

	invokeCtx, cancel := context.WithCancel(runCtx)
	e.cancelMu.Lock()
	e.cancelFuncs[task.ID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		cancel()
		e.cancelMu.Lock()
		delete(e.cancelFuncs, task.ID)
		e.cancelMu.Unlock()
	}()

	opts := v1.InvokeOptions{
		WorkingDirectory: task.Payload.WorkingDirectory,
		Model:            task.Config.Model,
		TimeoutMs:        task.Config.TimeoutMs,
		FeatureName:      task.Type,
	}

	result, err := e.backend.Invoke(invokeCtx, promptFor(task), opts)

	switch {
	case invokeCtx.Err() != nil:
		taskLogger.Info("task invocation cancelled")
		e.registry.Cancel(processID)
		if markErr := e.queue.MarkCancelled(task.ID); markErr != nil {
			taskLogger.WithError(markErr).Warn("failed to mark task cancelled")
		}
	case err != nil || !result.Success:
		msg := errMessage(err, result)
		taskLogger.WithError(err).Warn("task invocation failed", zap.String("reason", msg))
		e.registry.Fail(processID, msg)
		if markErr := e.queue.MarkFailed(task.ID, msg); markErr != nil {
			taskLogger.WithError(markErr).Warn("failed to mark task failed")
		}
	default:
		if result.SessionID != "" {
			e.registry.AttachSdkSessionId(processID, result.SessionID)
		}
		e.registry.Complete(processID, result.Response, nil)
		if markErr := e.queue.MarkCompleted(task.ID); markErr != nil {
			taskLogger.WithError(markErr).Warn("failed to mark task completed")
		}
	}
}

func promptFor(task *v1.Task) string {
	if task.Payload.PromptContent != "" {
		return task.Payload.PromptContent
	}
	return task.Payload.PromptFilePath
}

func errMessage(err error, result v1.InvokeResult) string {
	if err != nil {
		return err.Error()
	}
	if result.Error != "" {
		return result.Error
	}
	return "backend invocation failed"
}
