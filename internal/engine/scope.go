package engine

import (
	"fmt"

	"github.com/shaiso/alignflow/internal/domain"
)

// Scope — изменения графа, которые тело задачи накапливает во время выполнения.
//
// Изменения применяются к графу одним Commit после успешного завершения тела.
// Если тело упало, созданные им задачи в граф не попадают, поэтому повторная
// попытка создаёт их заново с теми же ID.
type Scope struct {
	graph   *Graph
	owner   *Task
	created []*Task
	ids     map[string]bool
	local   map[*Task]bool
	ops     []scopeOp
	forward *Task
}

type scopeOp struct {
	owner *Task
	task  *Task
	kind  domain.Attachment
}

// NewScope создаёт Scope для тела задачи owner.
func NewScope(g *Graph, owner *Task) *Scope {
	return &Scope{
		graph: g,
		owner: owner,
		ids:   make(map[string]bool),
		local: make(map[*Task]bool),
	}
}

// Owner возвращает задачу, которой принадлежит Scope.
func (s *Scope) Owner() *Task { return s.owner }

// NewTask создаёт задачу; её ID — "<owner>/<name>".
func (s *Scope) NewTask(spec Spec) *Task {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()

	id := s.graph.uniqueIDLocked(s.owner.id+"/"+spec.Name, s.ids)
	s.ids[id] = true

	t := s.graph.newTaskLocked(id, spec, s.owner.id)
	s.created = append(s.created, t)
	s.local[t] = true
	return t
}

// AddChild откладывает прикрепление task как ребёнка parent.
// parent — владелец Scope или задача, созданная в этом Scope.
func (s *Scope) AddChild(parent, task *Task) (*Task, error) {
	if err := s.check(parent, task, domain.AttachmentChild); err != nil {
		return nil, err
	}
	s.ops = append(s.ops, scopeOp{owner: parent, task: task, kind: domain.AttachmentChild})
	return task, nil
}

// AddFollowOn откладывает прикрепление next как follow-on задачи task.
func (s *Scope) AddFollowOn(task, next *Task) (*Task, error) {
	if err := s.check(task, next, domain.AttachmentFollowOn); err != nil {
		return nil, err
	}
	s.ops = append(s.ops, scopeOp{owner: task, task: next, kind: domain.AttachmentFollowOn})
	return next, nil
}

// Forward объявляет результат владельца равным результату task.
// task должен быть создан и прикреплён в этом Scope.
func (s *Scope) Forward(task *Task) error {
	if task == nil {
		return ErrNilTask
	}
	if !s.local[task] || s.pendingOwner(task) == nil {
		return NewValidationError(s.owner.id, "forward",
			fmt.Sprintf("%s is not attached in this scope", task.id), ErrDetachedTask)
	}
	s.forward = task
	return nil
}

// Forwarded возвращает задачу, на которую перенаправлен результат владельца.
func (s *Scope) Forwarded() *Task { return s.forward }

// Created возвращает задачи, созданные в Scope.
func (s *Scope) Created() []*Task { return s.created }

// check повторяет проверки attachLocked для отложенных рёбер.
func (s *Scope) check(owner, task *Task, kind domain.Attachment) error {
	if owner == nil || task == nil {
		return ErrNilTask
	}
	if owner != s.owner && !s.local[owner] {
		return NewValidationError(task.id, string(kind),
			fmt.Sprintf("%s is outside of the scope of %s", owner.id, s.owner.id), ErrForeignTask)
	}
	if !s.local[task] {
		return NewValidationError(task.id, string(kind), "task was not created in this scope", ErrForeignTask)
	}
	if owner == task {
		return NewValidationError(task.id, string(kind), "task cannot depend on itself", ErrSelfDependency)
	}
	if s.pendingOwner(task) != nil {
		return NewValidationError(task.id, string(kind), "task already attached", ErrAlreadyAttached)
	}
	for a := owner; a != nil && s.local[a]; a = s.pendingOwner(a) {
		if a == task {
			return NewValidationError(task.id, string(kind),
				fmt.Sprintf("%s is a descendant of %s", owner.id, task.id), ErrCyclicDependency)
		}
	}
	return nil
}

func (s *Scope) pendingOwner(t *Task) *Task {
	for _, op := range s.ops {
		if op.task == t {
			return op.owner
		}
	}
	return nil
}

// Commit добавляет созданные задачи и рёбра в граф.
func (s *Scope) Commit() error {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range s.created {
		if _, exists := g.tasks[t.id]; exists {
			return NewValidationError(t.id, "id", "task already exists in the graph", ErrDuplicateTaskID)
		}
		if s.pendingOwner(t) == nil {
			return NewValidationError(t.id, "owner", "task created but never attached", ErrDetachedTask)
		}
	}

	for _, t := range s.created {
		g.insertLocked(t)
	}
	for _, op := range s.ops {
		if err := g.attachLocked(op.owner, op.task, op.kind); err != nil {
			return err
		}
	}
	return nil
}
