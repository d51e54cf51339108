package registry

import (
	"testing"

	"github.com/kdlabs/queuecore/internal/common/logger"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func newTestRegistry() *AIProcessManager {
	return New(Config{}, logger.Default())
}

func TestRegisterCreatesRunningProcess(t *testing.T) {
	m := newTestRegistry()
	id := m.Register("hello", v1.RegisterOptions{Type: "queue-follow-prompt"})

	p, ok := m.Get(id)
	if !ok {
		t.Fatal("expected process to be retrievable")
	}
	if p.Status != v1.ProcessStatusRunning {
		t.Errorf("expected status running, got %s", p.Status)
	}
	if p.StartTime.IsZero() {
		t.Error("expected startTime to be set")
	}
}

func TestRegisterGroupInitializesEmptyChildList(t *testing.T) {
	m := newTestRegistry()
	id := m.RegisterGroup("group prompt", v1.RegisterOptions{})

	p, _ := m.Get(id)
	if p.GroupMetadata == nil {
		t.Fatal("expected groupMetadata to be set")
	}
	if len(p.GroupMetadata.ChildProcessIDs) != 0 {
		t.Errorf("expected empty child list, got %v", p.GroupMetadata.ChildProcessIDs)
	}
}

func TestAttachChildLinksParentAndSetsParentID(t *testing.T) {
	m := newTestRegistry()
	parent := m.RegisterGroup("group", v1.RegisterOptions{})
	child := m.Register("child", v1.RegisterOptions{})

	if err := m.AttachChild(parent, child); err != nil {
		t.Fatalf("AttachChild failed: %v", err)
	}

	childProcess, _ := m.Get(child)
	if childProcess.ParentProcessID != parent {
		t.Errorf("expected parentProcessId %s, got %s", parent, childProcess.ParentProcessID)
	}
	children := m.Children(parent)
	if len(children) != 1 || children[0].ID != child {
		t.Fatalf("expected children [%s], got %v", child, children)
	}
}

func TestCompleteSetsEndTimeAndResult(t *testing.T) {
	m := newTestRegistry()
	id := m.Register("p", v1.RegisterOptions{})
	m.Complete(id, "done", nil)

	p, _ := m.Get(id)
	if p.Status != v1.ProcessStatusCompleted {
		t.Errorf("expected completed, got %s", p.Status)
	}
	if p.Result != "done" {
		t.Errorf("expected result 'done', got %s", p.Result)
	}
	if p.EndTime == nil {
		t.Fatal("expected endTime to be set")
	}
	if p.EndTime.Before(p.StartTime) {
		t.Error("expected endTime >= startTime")
	}
}

func TestUpdateFromTerminalIsNoOp(t *testing.T) {
	m := newTestRegistry()
	id := m.Register("p", v1.RegisterOptions{})
	m.Complete(id, "done", nil)
	m.Fail(id, "should not apply")

	p, _ := m.Get(id)
	if p.Status != v1.ProcessStatusCompleted {
		t.Errorf("expected status to remain completed, got %s", p.Status)
	}
	if p.Error != "" {
		t.Errorf("expected no error to be applied, got %s", p.Error)
	}
}

// TestCancelGroupCascade exercises scenario 5 from the testable properties.
func TestCancelGroupCascade(t *testing.T) {
	m := newTestRegistry()
	group := m.RegisterGroup("group", v1.RegisterOptions{})
	c1 := m.Register("c1", v1.RegisterOptions{ParentProcessID: group})
	c2 := m.Register("c2", v1.RegisterOptions{ParentProcessID: group})
	m.AttachChild(group, c1)
	m.AttachChild(group, c2)

	var order []string
	m.OnChange(func(evt v1.ProcessEvent) {
		if evt.Type == v1.ProcessEventUpdated {
			order = append(order, evt.Process.ID)
		}
	})

	m.Cancel(group)

	c1Process, _ := m.Get(c1)
	c2Process, _ := m.Get(c2)
	groupProcess, _ := m.Get(group)

	if c1Process.Status != v1.ProcessStatusCancelled || c1Process.Error != "parent cancelled" {
		t.Errorf("expected c1 cancelled with parent cancelled reason, got status=%s error=%s", c1Process.Status, c1Process.Error)
	}
	if c2Process.Status != v1.ProcessStatusCancelled || c2Process.Error != "parent cancelled" {
		t.Errorf("expected c2 cancelled with parent cancelled reason, got status=%s error=%s", c2Process.Status, c2Process.Error)
	}
	if groupProcess.Status != v1.ProcessStatusCancelled {
		t.Errorf("expected group cancelled, got %s", groupProcess.Status)
	}

	if len(order) != 3 || order[0] != c1 || order[1] != c2 || order[2] != group {
		t.Fatalf("expected update order [c1, c2, group], got %v", order)
	}
}

func TestIsResumable(t *testing.T) {
	m := newTestRegistry()
	id := m.Register("p", v1.RegisterOptions{Backend: "copilot-sdk"})
	if m.IsResumable(id) {
		t.Error("expected not resumable while running")
	}
	m.AttachSdkSessionId(id, "sess-1")
	m.Complete(id, "done", nil)
	if !m.IsResumable(id) {
		t.Error("expected resumable after completing with sdk session id")
	}
}

func TestClearCompletedLeavesRunning(t *testing.T) {
	m := newTestRegistry()
	running := m.Register("r", v1.RegisterOptions{})
	done := m.Register("d", v1.RegisterOptions{})
	m.Complete(done, "ok", nil)

	m.ClearCompleted()

	if _, ok := m.Get(running); !ok {
		t.Error("expected running process to remain")
	}
	if _, ok := m.Get(done); ok {
		t.Error("expected completed process to be removed")
	}
}

func TestCountsReflectStatuses(t *testing.T) {
	m := newTestRegistry()
	m.Register("r", v1.RegisterOptions{})
	done := m.Register("d", v1.RegisterOptions{})
	m.Complete(done, "", nil)
	failed := m.Register("f", v1.RegisterOptions{})
	m.Fail(failed, "boom")

	counts := m.Counts()
	if counts.Running != 1 || counts.Completed != 1 || counts.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestRemoveStripsChildFromParentGroupMetadata(t *testing.T) {
	m := newTestRegistry()
	parent := m.RegisterGroup("group", v1.RegisterOptions{})
	child := m.Register("child", v1.RegisterOptions{})
	if err := m.AttachChild(parent, child); err != nil {
		t.Fatalf("AttachChild failed: %v", err)
	}

	m.Remove(child)

	p, _ := m.Get(parent)
	for _, cid := range p.GroupMetadata.ChildProcessIDs {
		if cid == child {
			t.Fatalf("expected removed child %s to be stripped from GroupMetadata.ChildProcessIDs, got %v", child, p.GroupMetadata.ChildProcessIDs)
		}
	}
}

func TestClearCompletedStripsChildFromParentGroupMetadata(t *testing.T) {
	m := newTestRegistry()
	parent := m.RegisterGroup("group", v1.RegisterOptions{})
	child := m.Register("child", v1.RegisterOptions{})
	if err := m.AttachChild(parent, child); err != nil {
		t.Fatalf("AttachChild failed: %v", err)
	}
	m.Complete(child, "done", nil)

	m.ClearCompleted()

	p, _ := m.Get(parent)
	for _, cid := range p.GroupMetadata.ChildProcessIDs {
		if cid == child {
			t.Fatalf("expected completed child %s to be stripped from GroupMetadata.ChildProcessIDs, got %v", child, p.GroupMetadata.ChildProcessIDs)
		}
	}
}

func TestSnapshotPrunesTerminalHistory(t *testing.T) {
	m := New(Config{HistoryLimit: 2}, logger.Default())

	running := m.Register("still running", v1.RegisterOptions{})

	var completedIDs []string
	for i := 0; i < 3; i++ {
		id := m.Register("done", v1.RegisterOptions{})
		m.Complete(id, "", nil)
		completedIDs = append(completedIDs, id)
	}

	snap := m.Snapshot()
	if _, ok := snap.Processes[running]; !ok {
		t.Fatal("expected the running process to survive pruning")
	}
	if len(snap.Processes) != 3 {
		t.Fatalf("expected 1 running + 2 most recent terminal entries, got %d", len(snap.Processes))
	}
	if _, ok := snap.Processes[completedIDs[0]]; ok {
		t.Error("expected the oldest completed process to be pruned")
	}
	if _, ok := snap.Processes[completedIDs[2]]; !ok {
		t.Error("expected the most recently completed process to survive")
	}
}
