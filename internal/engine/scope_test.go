package engine

import (
	"errors"
	"testing"
)

func TestScope_CommitAddsTasks(t *testing.T) {
	g := NewGraph()
	root := newTask(g, "root")

	s := NewScope(g, root)
	child := s.NewTask(Spec{Name: "resourced", Func: "noop"})
	if child.ID() != "root/resourced" {
		t.Errorf("child ID = %s", child.ID())
	}
	if _, err := s.AddChild(root, child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Forward(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// До Commit граф не меняется
	if g.Size() != 1 {
		t.Errorf("graph size before commit = %d, want 1", g.Size())
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if g.Size() != 2 {
		t.Errorf("graph size after commit = %d, want 2", g.Size())
	}
	if owner, _ := g.Owner(child); owner != root {
		t.Error("child should be attached to root")
	}
	if s.Forwarded() != child {
		t.Error("forward target not recorded")
	}
}

func TestScope_RetryReusesIDs(t *testing.T) {
	g := NewGraph()
	root := newTask(g, "root")

	// Первая попытка упала — Commit не вызывался
	first := NewScope(g, root).NewTask(Spec{Name: "x", Func: "noop"})
	second := NewScope(g, root).NewTask(Spec{Name: "x", Func: "noop"})

	if first.ID() != second.ID() {
		t.Errorf("retry produced a different ID: %s vs %s", first.ID(), second.ID())
	}
}

func TestScope_RejectsOutsideOwner(t *testing.T) {
	g := NewGraph()
	root := newTask(g, "root")
	other := newTask(g, "other")

	s := NewScope(g, root)
	x := s.NewTask(Spec{Name: "x", Func: "noop"})

	_, err := s.AddChild(other, x)
	if !errors.Is(err, ErrForeignTask) {
		t.Errorf("expected ErrForeignTask, got %v", err)
	}
}

func TestScope_CycleInsideScope(t *testing.T) {
	g := NewGraph()
	root := newTask(g, "root")

	s := NewScope(g, root)
	a := s.NewTask(Spec{Name: "a", Func: "noop"})
	b := s.NewTask(Spec{Name: "b", Func: "noop"})

	if _, err := s.AddChild(root, a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChild(a, b); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFollowOn(b, a); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestScope_UnattachedTaskFailsCommit(t *testing.T) {
	g := NewGraph()
	root := newTask(g, "root")

	s := NewScope(g, root)
	s.NewTask(Spec{Name: "lost", Func: "noop"})

	if err := s.Commit(); !errors.Is(err, ErrDetachedTask) {
		t.Errorf("expected ErrDetachedTask, got %v", err)
	}
}
