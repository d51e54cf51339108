package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

func newTestPool(t *testing.T, max int, idleTimeout time.Duration) (*Pool, *int32) {
	t.Helper()
	var created, destroyed int32
	factory := func(ctx context.Context, workingDir string) (*Session, error) {
		atomic.AddInt32(&created, 1)
		return &Session{ID: workingDir + "-session", WorkingDirectory: workingDir}, nil
	}
	destroy := func(s *Session) {
		atomic.AddInt32(&destroyed, 1)
	}
	p := New(Config{MaxSessions: max, IdleTimeout: idleTimeout}, factory, destroy, logger.Default())
	return p, &created
}

func TestCheckoutCreatesThenReusesIdleSession(t *testing.T) {
	p, created := newTestPool(t, 5, time.Minute)

	s1, err := p.Checkout(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	p.Return(s1)

	s2, err := p.Checkout(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected the idle session to be reused, got different ids %s vs %s", s1.ID, s2.ID)
	}
	if *created != 1 {
		t.Fatalf("expected exactly 1 session created, got %d", *created)
	}
}

func TestCheckoutBlocksAtCapacityUntilReturn(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Minute)

	s1, _ := p.Checkout(context.Background(), "/a")

	done := make(chan *Session, 1)
	go func() {
		s, err := p.Checkout(context.Background(), "/b")
		if err != nil {
			t.Error(err)
			return
		}
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("expected checkout for /b to block while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Return(s1)

	select {
	case s := <-done:
		if s.WorkingDirectory != "/b" {
			t.Fatalf("expected session for /b, got %s", s.WorkingDirectory)
		}
	case <-time.After(time.Second):
		t.Fatal("expected checkout to unblock after return")
	}
}

func TestConcurrentCheckoutsForSameDirDontCollide(t *testing.T) {
	p, created := newTestPool(t, 5, time.Minute)

	s1, err := p.Checkout(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}

	done := make(chan *Session, 1)
	go func() {
		s, err := p.Checkout(context.Background(), "/repo")
		if err != nil {
			t.Error(err)
			return
		}
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("expected the second checkout for the same dir to wait for the first to return")
	case <-time.After(50 * time.Millisecond):
	}

	p.Return(s1)

	select {
	case s2 := <-done:
		if s2 != s1 {
			t.Fatalf("expected the second checkout to reuse the returned session")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the waiting checkout to unblock after return")
	}
	if *created != 1 {
		t.Fatalf("expected exactly 1 session created for the shared dir, got %d", *created)
	}
}

func TestIdleSessionDestroyedAfterTimeout(t *testing.T) {
	p, _ := newTestPool(t, 5, 20*time.Millisecond)

	s1, _ := p.Checkout(context.Background(), "/repo")
	p.Return(s1)

	time.Sleep(100 * time.Millisecond)
	// Force an LRU access to let the expirable LRU's lazy expiry run.
	p.idle.Get("nonexistent")

	if p.Len() != 0 {
		t.Fatalf("expected idle session to be evicted after timeout, total=%d", p.Len())
	}
}
