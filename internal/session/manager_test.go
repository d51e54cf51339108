package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/monitor"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func newTestManager() *Manager {
	mon := monitor.New(15*time.Millisecond, logger.Default())
	return New(mon, logger.Default())
}

func TestStartRequiresWorkingDirectoryAndTool(t *testing.T) {
	m := newTestManager()
	if _, err := m.Start(context.Background(), v1.StartSessionOptions{Tool: "codex"}); err == nil {
		t.Fatalf("expected error for missing workingDirectory")
	}
	if _, err := m.Start(context.Background(), v1.StartSessionOptions{WorkingDirectory: "/tmp"}); err == nil {
		t.Fatalf("expected error for missing tool")
	}
}

func TestStartTransitionsToErrorWhenNoTerminalAvailable(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	var events []v1.SessionEventType
	m.OnChange(func(evt v1.SessionEvent) {
		mu.Lock()
		events = append(events, evt.Type)
		mu.Unlock()
	})

	id, err := m.Start(context.Background(), v1.StartSessionOptions{
		WorkingDirectory:  "/tmp",
		Tool:              "codex",
		PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := m.All()
	if len(all) != 1 || all[0].ID != id {
		t.Fatalf("expected session %s to be tracked", id)
	}
	if all[0].Status != v1.SessionStatusError {
		t.Fatalf("expected status error on a platform with no available terminal, got %s", all[0].Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != v1.SessionEventStarted {
		t.Fatalf("expected started event first, got %+v", events)
	}
}

func TestRenameUpdatesCustomName(t *testing.T) {
	m := newTestManager()
	id, _ := m.Start(context.Background(), v1.StartSessionOptions{
		WorkingDirectory:  "/tmp",
		Tool:              "codex",
		PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary"),
	})

	if err := m.Rename(id, "my session"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := m.All()
	if all[0].CustomName != "my session" {
		t.Fatalf("expected renamed session, got %q", all[0].CustomName)
	}
}

func TestRemoveIsNoOpWhileActiveOrStarting(t *testing.T) {
	m := newTestManager()
	id, _ := m.Start(context.Background(), v1.StartSessionOptions{
		WorkingDirectory:  "/tmp",
		Tool:              "codex",
		PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary"),
	})
	// The spawn fails and leaves the session in status error, so the state
	// is forced to active directly to exercise the guard, then set back to
	// error to check that Remove works once the session is terminal.
	m.mu.Lock()
	m.sessions[id].Status = v1.SessionStatusActive
	m.mu.Unlock()
	m.Remove(id)
	if len(m.All()) != 1 {
		t.Fatalf("expected Remove to be a no-op while the session is active")
	}

	m.mu.Lock()
	m.sessions[id].Status = v1.SessionStatusError
	m.mu.Unlock()
	m.Remove(id)
	if len(m.All()) != 0 {
		t.Fatalf("expected session removed once in a terminal state")
	}
}

func TestEndTransitionsToEnded(t *testing.T) {
	m := newTestManager()
	id, _ := m.Start(context.Background(), v1.StartSessionOptions{
		WorkingDirectory:  "/tmp",
		Tool:              "codex",
		PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary"),
	})

	if err := m.End(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := m.All()
	if all[0].Status != v1.SessionStatusEnded {
		t.Fatalf("expected ended status, got %s", all[0].Status)
	}
}

func TestCountsAndClearEnded(t *testing.T) {
	m := newTestManager()
	id1, _ := m.Start(context.Background(), v1.StartSessionOptions{WorkingDirectory: "/tmp", Tool: "codex", PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary")})
	id2, _ := m.Start(context.Background(), v1.StartSessionOptions{WorkingDirectory: "/tmp", Tool: "codex", PreferredTerminal: v1.TerminalType("nonexistent-terminal-binary")})

	counts := m.Counts()
	if counts.Error != 2 {
		t.Fatalf("expected 2 errored sessions, got %+v", counts)
	}

	m.ClearEnded()
	if len(m.All()) != 0 {
		t.Fatalf("expected ClearEnded to remove both sessions")
	}
	_ = id1
	_ = id2
}
