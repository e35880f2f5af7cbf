package engine

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/shaiso/alignflow/internal/domain"
)

// Spec — описание новой задачи.
type Spec struct {
	// Name — имя задачи, из него строится ID.
	Name string

	// Func — имя функции в FuncRegistry.
	Func FuncName

	// Inputs — упорядоченные входы; могут содержать Promise.
	Inputs []any

	// Resources — запрос ресурсов (по умолчанию Resolved с пустым footprint).
	Resources domain.Resources

	// Partition — партиция задачи. Учитывается только вместе с Head.
	Partition domain.PartitionKey

	// Head — задача открывает партицию: Partition действует на всё её поддерево.
	Head bool
}

// Task — узел графа задач.
//
// Поля, заданные при создании, неизменяемы. Связи (владелец, дети,
// follow-on'ы) меняются только под мьютексом графа.
type Task struct {
	id        string
	spec      Spec
	seq       int64
	createdBy string
	graph     *Graph

	owner      *Task
	attachment domain.Attachment
	children   []*Task
	followOns  []*Task
}

// ID возвращает детерминированный идентификатор задачи.
func (t *Task) ID() string { return t.id }

// Name возвращает имя задачи.
func (t *Task) Name() string { return t.spec.Name }

// Func возвращает имя функции задачи.
func (t *Task) Func() FuncName { return t.spec.Func }

// Inputs возвращает неразрешённые входы (с Promise).
func (t *Task) Inputs() []any { return t.spec.Inputs }

// Resources возвращает запрос ресурсов.
func (t *Task) Resources() domain.Resources { return t.spec.Resources }

// Seq возвращает порядковый номер создания.
func (t *Task) Seq() int64 { return t.seq }

// CreatedBy возвращает ID задачи, тело которой создало эту задачу.
func (t *Task) CreatedBy() string { return t.createdBy }

// Graph возвращает граф, которому принадлежит задача.
func (t *Task) Graph() *Graph { return t.graph }

// Spec возвращает копию описания задачи.
func (t *Task) Spec() Spec { return t.spec }

// Partition возвращает партицию: ближайшую Head-задачу вверх по цепочке владельцев.
func (t *Task) Partition() domain.PartitionKey {
	if t.graph != nil {
		t.graph.mu.RLock()
		defer t.graph.mu.RUnlock()
	}
	return t.partitionLocked()
}

func (t *Task) partitionLocked() domain.PartitionKey {
	for a := t; a != nil; a = a.owner {
		if a.spec.Head {
			return a.spec.Partition
		}
	}
	return domain.WholeInput
}

// Result возвращает promise на слот результата.
func (t *Task) Result(slot int) Promise {
	return Promise{TaskID: t.id, Slot: slot}
}

// Results возвращает promise на весь список результатов.
func (t *Task) Results() Promise {
	return Promise{TaskID: t.id, Slot: AllSlots}
}

// Graph — граф задач с рёбрами parent→child и predecessor→follow-on.
//
// Граф строится до запуска; во время выполнения тела задач расширяют его
// через Scope, изменения применяются под мьютексом.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []*Task
	seq   int64
}

// NewGraph создаёт пустой граф.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// NewTask регистрирует новую неприкреплённую задачу.
//
// ID строится из имени; повторное имя получает суффикс "#N" в порядке создания,
// поэтому одинаковая последовательность вызовов даёт одинаковые ID.
func (g *Graph) NewTask(spec Spec) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.newTaskLocked(g.uniqueIDLocked(spec.Name, nil), spec, "")
	g.insertLocked(t)
	return t
}

func (g *Graph) newTaskLocked(id string, spec Spec, createdBy string) *Task {
	g.seq++
	return &Task{
		id:        id,
		spec:      spec,
		seq:       g.seq,
		createdBy: createdBy,
		graph:     g,
	}
}

func (g *Graph) insertLocked(t *Task) {
	g.tasks[t.id] = t
	g.order = append(g.order, t)
}

// uniqueIDLocked подбирает свободный ID. reserved — ID, занятые вне графа (Scope).
func (g *Graph) uniqueIDLocked(base string, reserved map[string]bool) string {
	if base == "" {
		base = "task"
	}
	id := base
	for n := 2; ; n++ {
		_, taken := g.tasks[id]
		if !taken && !reserved[id] {
			return id
		}
		id = base + "#" + strconv.Itoa(n)
	}
}

// RestoreTask вставляет задачу с заданным ID и порядковым номером.
// Используется при восстановлении графа из job store.
func (g *Graph) RestoreTask(id string, spec Spec, seq int64, createdBy string) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[id]; exists {
		return nil, NewValidationError(id, "id", "task already exists in the graph", ErrDuplicateTaskID)
	}
	t := &Task{id: id, spec: spec, seq: seq, createdBy: createdBy, graph: g}
	g.seq = max(g.seq, seq)
	g.insertLocked(t)
	return t, nil
}

// AddChild прикрепляет task как ребёнка parent и возвращает task.
// Ребёнок запускается после тела родителя, но не ждёт его потомков.
func (g *Graph) AddChild(parent, task *Task) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.attachLocked(parent, task, domain.AttachmentChild); err != nil {
		return nil, err
	}
	return task, nil
}

// AddFollowOn прикрепляет next как follow-on задачи task и возвращает next.
// Follow-on запускается после всего поддерева task.
func (g *Graph) AddFollowOn(task, next *Task) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.attachLocked(task, next, domain.AttachmentFollowOn); err != nil {
		return nil, err
	}
	return next, nil
}

// attachLocked проверяет и добавляет ребро owner → task.
func (g *Graph) attachLocked(owner, task *Task, kind domain.Attachment) error {
	if owner == nil || task == nil {
		return ErrNilTask
	}
	if owner.graph != g || task.graph != g {
		return NewValidationError(task.id, string(kind), "task belongs to another graph", ErrForeignTask)
	}
	if owner == task {
		return NewValidationError(task.id, string(kind), "task cannot depend on itself", ErrSelfDependency)
	}
	if task.owner != nil {
		return NewValidationError(task.id, string(kind),
			fmt.Sprintf("already attached to %s", task.owner.id), ErrAlreadyAttached)
	}

	// Цикл возможен, только если owner уже лежит в поддереве task
	for a := owner; a != nil; a = a.owner {
		if a == task {
			return NewValidationError(task.id, string(kind),
				fmt.Sprintf("%s is a descendant of %s", owner.id, task.id), ErrCyclicDependency)
		}
	}

	task.owner = owner
	task.attachment = kind
	if kind == domain.AttachmentChild {
		owner.children = append(owner.children, task)
	} else {
		owner.followOns = append(owner.followOns, task)
	}
	return nil
}

// Get возвращает задачу по ID.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, ok := g.tasks[id]
	return t, ok
}

// Tasks возвращает задачи в порядке создания.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, len(g.order))
	copy(out, g.order)
	return out
}

// Size возвращает количество задач.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.order)
}

// Owner возвращает задачу, к которой прикреплена t, и тип связи.
func (g *Graph) Owner(t *Task) (*Task, domain.Attachment) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if t.owner == nil {
		return nil, domain.AttachmentRoot
	}
	return t.owner, t.attachment
}

// Children возвращает детей t в порядке прикрепления.
func (g *Graph) Children(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// FollowOns возвращает follow-on'ы t.
func (g *Graph) FollowOns(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, len(t.followOns))
	copy(out, t.followOns)
	return out
}

// Prerequisites возвращает задачи, которые должны завершиться до старта t:
//   - для ребёнка — родитель;
//   - для follow-on — предшественник и всё его поддерево.
func (g *Graph) Prerequisites(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return prerequisitesLocked(t)
}

func prerequisitesLocked(t *Task) []*Task {
	if t.owner == nil {
		return nil
	}
	if t.attachment == domain.AttachmentChild {
		return []*Task{t.owner}
	}
	return subtreeLocked(t.owner, []*Task{t.owner})
}

// subtreeLocked добавляет к out потомков t, которых ждёт follow-on задачи t:
// детей рекурсивно вместе с их follow-on'ами, но не follow-on'ы самого t.
func subtreeLocked(t *Task, out []*Task) []*Task {
	for _, c := range t.children {
		out = append(out, c)
		out = allDescendantsLocked(c, out)
	}
	return out
}

func allDescendantsLocked(t *Task, out []*Task) []*Task {
	for _, c := range t.children {
		out = append(out, c)
		out = allDescendantsLocked(c, out)
	}
	for _, f := range t.followOns {
		out = append(out, f)
		out = allDescendantsLocked(f, out)
	}
	return out
}

// Subtree возвращает потомков t, которых ждут follow-on'ы t.
func (g *Graph) Subtree(t *Task) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return subtreeLocked(t, nil)
}

// DependsOn возвращает true, если x транзитивно ждёт завершения y.
func (g *Graph) DependsOn(x, y *Task) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[*Task]bool{x: true}
	queue := prerequisitesLocked(x)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if t == y {
			return true
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		queue = append(queue, prerequisitesLocked(t)...)
	}
	return false
}
