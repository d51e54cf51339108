package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/storage"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func newTestStore(t *testing.T) *storage.FileKVStore {
	t.Helper()
	store, err := storage.NewFileKVStore(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("NewFileKVStore failed: %v", err)
	}
	return store
}

// TestPersistenceDebounceCoalescing covers part of scenario 3 from the
// testable properties: a burst of mutations inside the debounce window is
// written out once Flush runs. It checks that a snapshot exists; it does not
// count how many writes took place.
func TestPersistenceDebounceCoalescing(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue()
	p := NewPersistence(q, store, 50*time.Millisecond, logger.Default())
	defer p.Close()

	for i := 0; i < 5; i++ {
		q.Enqueue(testInput("t", v1.PriorityNormal))
	}

	p.Flush()

	_, ok, err := store.Get(context.Background(), storeKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a snapshot to have been written")
	}
}

// TestPersistenceLoadRestoresQueuedTasks exercises a save-then-reload round
// trip through a fresh TaskQueueManager.
func TestPersistenceLoadRestoresQueuedTasks(t *testing.T) {
	store := newTestStore(t)

	q1 := newTestQueue()
	p1 := NewPersistence(q1, store, time.Millisecond, logger.Default())
	q1.Enqueue(testInput("t1", v1.PriorityHigh))
	p1.Close()

	q2 := newTestQueue()
	p2 := NewPersistence(q2, store, time.Millisecond, logger.Default())
	if err := p2.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer p2.Close()

	queued := q2.GetQueued()
	if len(queued) != 1 {
		t.Fatalf("expected 1 restored task, got %d", len(queued))
	}
	if queued[0].DisplayName != "t1" {
		t.Errorf("expected displayName t1, got %s", queued[0].DisplayName)
	}
}

// TestPersistenceLoadToleratesCorruptData exercises scenario 4 from the
// testable properties: unparseable persisted data results in an empty queue,
// not an error.
func TestPersistenceLoadToleratesCorruptData(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), storeKey, []byte("not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	q := newTestQueue()
	p := NewPersistence(q, store, time.Millisecond, logger.Default())
	defer p.Close()

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load should tolerate corrupt data without error, got: %v", err)
	}
	if len(q.GetQueued()) != 0 {
		t.Fatal("expected empty queue after loading corrupt data")
	}
}
