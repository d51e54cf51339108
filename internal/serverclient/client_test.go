package serverclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestCreateProcessSyncsToServer(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/processes" && r.Method == http.MethodPost {
			atomic.AddInt32(&received, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logger.Default())
	defer c.Close()

	c.CreateProcess(map[string]string{"id": "p1"})

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestHealthCheckUpdatesConnectedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logger.Default())
	defer c.Close()

	var mu sync.Mutex
	var last bool
	c.OnConnectionChange(func(connected bool) {
		mu.Lock()
		last = connected
		mu.Unlock()
	})

	if !c.HealthCheck(context.Background()) {
		t.Fatalf("expected health check to succeed")
	}
	mu.Lock()
	defer mu.Unlock()
	if !last {
		t.Fatalf("expected connected flag to be true")
	}
}

func TestFailedSyncRetriesWithBackoffThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logger.Default())
	defer c.Close()

	c.CreateProcess(map[string]string{"id": "p1"})

	waitFor(t, 3*time.Second, func() bool { return atomic.LoadInt32(&calls) >= 2 })
}

func TestPermanentFailureDoesNotBlockLaterRequests(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logger.Default())
	defer c.Close()

	c.enqueue(request{method: http.MethodPost, path: "/bad"})
	c.enqueue(request{method: http.MethodPost, path: "/good"})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range paths {
			if p == "/good" {
				return true
			}
		}
		return false
	})
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	c := &Client{
		cfg:       Config{QueueSize: 2},
		queue:     make(chan request, 2),
		listeners: make(map[int]ConnectionListener),
		logger:    logger.Default(),
	}

	c.enqueue(request{path: "/1"})
	c.enqueue(request{path: "/2"})
	c.enqueue(request{path: "/3"})

	if len(c.queue) != 2 {
		t.Fatalf("expected queue to stay bounded at 2, got %d", len(c.queue))
	}
	first := <-c.queue
	if first.path != "/2" {
		t.Fatalf("expected oldest item /1 dropped, got head %q", first.path)
	}
}
