package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/registry"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error)
}

func (f *fakeBackend) Invoke(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, prompt, opts)
}

func newTestQueue() *queue.TaskQueueManager {
	return queue.New(queue.Config{DefaultPriority: v1.PriorityNormal, MaxHistorySize: 100, KeepHistory: true}, logger.Default())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestExecutorCompletesSuccessfulTask(t *testing.T) {
	q := newTestQueue()
	reg := registry.New(registry.Config{}, logger.Default())
	backend := &fakeBackend{fn: func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
		return v1.InvokeResult{Success: true, Response: "ok"}, nil
	}}
	e := New(q, reg, backend, 1, logger.Default())
	e.Start(context.Background())
	defer e.Stop()

	id, _ := q.Enqueue(v1.TaskInput{Type: "follow-prompt", Priority: v1.PriorityNormal, Payload: v1.TaskPayload{PromptContent: "hi"}})

	waitFor(t, time.Second, func() bool {
		task, ok := q.GetTask(id)
		return ok && task.Status == v1.TaskStatusCompleted
	})

	task, _ := q.GetTask(id)
	if task.ProcessID == "" {
		t.Fatal("expected processId to be set on the task")
	}
	process, ok := reg.Get(task.ProcessID)
	if !ok {
		t.Fatal("expected a process to have been registered")
	}
	if process.Status != v1.ProcessStatusCompleted {
		t.Errorf("expected process completed, got %s", process.Status)
	}
	if process.Result != "ok" {
		t.Errorf("expected result 'ok', got %s", process.Result)
	}
}

func TestExecutorFailsOnBackendError(t *testing.T) {
	q := newTestQueue()
	reg := registry.New(registry.Config{}, logger.Default())
	backend := &fakeBackend{fn: func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
		return v1.InvokeResult{Success: false, Error: "backend down"}, nil
	}}
	e := New(q, reg, backend, 1, logger.Default())
	e.Start(context.Background())
	defer e.Stop()

	id, _ := q.Enqueue(v1.TaskInput{Type: "follow-prompt", Priority: v1.PriorityNormal, Payload: v1.TaskPayload{PromptContent: "hi"}})

	waitFor(t, time.Second, func() bool {
		task, ok := q.GetTask(id)
		return ok && task.Status == v1.TaskStatusFailed
	})

	task, _ := q.GetTask(id)
	if task.Error != "backend down" {
		t.Errorf("expected error 'backend down', got %s", task.Error)
	}
}

func TestExecutorRespectsConcurrencyCap(t *testing.T) {
	q := newTestQueue()
	reg := registry.New(registry.Config{}, logger.Default())
	release := make(chan struct{})
	var concurrent, maxConcurrent int
	var mu sync.Mutex
	backend := &fakeBackend{fn: func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()
		<-release
		mu.Lock()
		concurrent--
		mu.Unlock()
		return v1.InvokeResult{Success: true}, nil
	}}
	e := New(q, reg, backend, 2, logger.Default())
	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < 5; i++ {
		q.Enqueue(v1.TaskInput{Type: "t", Priority: v1.PriorityNormal, Payload: v1.TaskPayload{PromptContent: "hi"}})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return concurrent == 2
	})
	close(release)

	waitFor(t, time.Second, func() bool {
		return q.Stats().Completed == 5
	})

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 2 {
		t.Errorf("expected max concurrency of 2, observed %d", maxConcurrent)
	}
}

func TestSetMaxConcurrencyGrowsAboveConstructionValue(t *testing.T) {
	q := newTestQueue()
	reg := registry.New(registry.Config{}, logger.Default())
	release := make(chan struct{})
	var concurrent, maxConcurrent int
	var mu sync.Mutex
	backend := &fakeBackend{fn: func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()
		<-release
		mu.Lock()
		concurrent--
		mu.Unlock()
		return v1.InvokeResult{Success: true}, nil
	}}
	e := New(q, reg, backend, 2, logger.Default())
	e.Start(context.Background())
	defer e.Stop()

	// Growing past the value the Executor was constructed with must not
	// panic the underlying semaphore.Weighted.
	e.SetMaxConcurrency(4)

	for i := 0; i < 4; i++ {
		q.Enqueue(v1.TaskInput{Type: "t", Priority: v1.PriorityNormal, Payload: v1.TaskPayload{PromptContent: "hi"}})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return concurrent == 4
	})
	close(release)

	waitFor(t, time.Second, func() bool {
		return q.Stats().Completed == 4
	})
}

func TestExecutorCancelRunningTask(t *testing.T) {
	q := newTestQueue()
	reg := registry.New(registry.Config{}, logger.Default())
	started := make(chan struct{})
	backend := &fakeBackend{fn: func(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
		close(started)
		<-ctx.Done()
		return v1.InvokeResult{}, ctx.Err()
	}}
	e := New(q, reg, backend, 1, logger.Default())
	e.Start(context.Background())
	defer e.Stop()

	id, _ := q.Enqueue(v1.TaskInput{Type: "t", Priority: v1.PriorityNormal, Payload: v1.TaskPayload{PromptContent: "hi"}})
	<-started

	if err := q.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		task, ok := q.GetTask(id)
		return ok && task.Status == v1.TaskStatusCancelled
	})
}
