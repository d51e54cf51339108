package registry

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

func TestRegistryPersistenceRoundTrip(t *testing.T) {
	store := newTestStore(t)

	m1 := newTestRegistry()
	p1 := NewPersistence(m1, store, time.Millisecond, logger.Default())
	running := m1.Register("still running", v1.RegisterOptions{})
	done := m1.Register("done", v1.RegisterOptions{})
	m1.Complete(done, "result", nil)
	p1.Close()

	m2 := newTestRegistry()
	p2 := NewPersistence(m2, store, time.Millisecond, logger.Default())
	if err := p2.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer p2.Close()

	restoredRunning, ok := m2.Get(running)
	if !ok {
		t.Fatal("expected the formerly-running process to be restored")
	}
	if restoredRunning.Status != v1.ProcessStatusFailed {
		t.Errorf("expected restart recovery to mark it failed, got %s", restoredRunning.Status)
	}
	if restoredRunning.Error == "" {
		t.Error("expected a restart error message")
	}

	restoredDone, ok := m2.Get(done)
	if !ok {
		t.Fatal("expected the completed process to be restored")
	}
	if restoredDone.Status != v1.ProcessStatusCompleted {
		t.Errorf("expected status to remain completed, got %s", restoredDone.Status)
	}
	if restoredDone.Result != "result" {
		t.Errorf("expected result to round-trip, got %s", restoredDone.Result)
	}
}

func TestRegistryPersistenceToleratesCorruptData(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), storeKey, []byte("not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m := newTestRegistry()
	p := NewPersistence(m, store, time.Millisecond, logger.Default())
	defer p.Close()

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load should tolerate corrupt data, got: %v", err)
	}
	if len(m.All()) != 0 {
		t.Fatal("expected empty registry after loading corrupt data")
	}
}
