package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/monitor"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/registry"
	"github.com/kdlabs/queuecore/internal/session"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	q := queue.New(queue.Config{DefaultPriority: v1.PriorityNormal}, log)
	reg := registry.New(registry.Config{}, log)
	mon := monitor.New(0, log)
	t.Cleanup(mon.Close)
	sessions := session.New(mon, log)

	return NewServer(Config{}, q, reg, sessions, log)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateTaskEndpoint(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(v1.TaskInput{
		Priority: v1.PriorityNormal,
		Payload:  v1.TaskPayload{PromptContent: "do something"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatalf("expected a task id in response")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(v1.TaskInput{
		Priority: v1.PriorityNormal,
		Payload:  v1.TaskPayload{PromptContent: "x"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats v1.QueueStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("expected 1 queued task, got %d", stats.Queued)
	}
}

func TestListProcessesEndpointEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/processes", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "[]" && rec.Body.String() != "null" {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestListSessionsEndpointEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
