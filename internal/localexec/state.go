package localexec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// RunState — состояние выполнения одного вызова в памяти.
//
// Содержит:
//   - граф и таблицу promises
//   - записи job store по каждой задаче
//   - статусы и ошибки задач
type RunState struct {
	// Invocation — вызов из job store.
	Invocation *domain.Invocation

	// Graph — граф задач.
	Graph *engine.Graph

	// Root — зонтичная задача.
	Root *engine.Task

	// Registry — разрешённые результаты.
	Registry *engine.Registry

	// records — записи job store (taskID → запись).
	records map[string]*domain.TaskRecord

	// errs — ошибки упавших и пропущенных задач.
	errs map[string]error

	// interrupted — задачи, не начатые из-за отмены вызова.
	interrupted map[string]bool

	mu sync.RWMutex
}

// NewRunState создаёт RunState для нового вызова: все задачи графа в PENDING.
func NewRunState(inv *domain.Invocation, root *engine.Task) (*RunState, error) {
	s := newRunState(inv, root)

	for _, t := range s.Graph.Tasks() {
		rec, err := newRecord(inv, t)
		if err != nil {
			return nil, err
		}
		s.records[t.ID()] = rec
	}
	return s, nil
}

func newRunState(inv *domain.Invocation, root *engine.Task) *RunState {
	return &RunState{
		Invocation:  inv,
		Graph:       root.Graph(),
		Root:        root,
		Registry:    engine.NewRegistry(),
		records:     make(map[string]*domain.TaskRecord),
		errs:        make(map[string]error),
		interrupted: make(map[string]bool),
	}
}

// newRecord строит запись job store для задачи графа.
func newRecord(inv *domain.Invocation, t *engine.Task) (*domain.TaskRecord, error) {
	inputs, err := engine.EncodeValues(t.Inputs())
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID(), err)
	}

	rec := &domain.TaskRecord{
		ID:           t.ID(),
		InvocationID: inv.ID,
		Seq:          t.Seq(),
		Name:         t.Name(),
		Func:         string(t.Func()),
		Partition:    t.Partition(),
		CreatedBy:    t.CreatedBy(),
		Inputs:       inputs,
		Resources:    t.Resources(),
		Status:       domain.TaskStatusPending,
		CreatedAt:    inv.CreatedAt,
	}

	owner, kind := t.Graph().Owner(t)
	rec.Attachment = kind
	if owner != nil {
		rec.Parent = owner.ID()
	}
	return rec, nil
}

// Record возвращает запись задачи.
func (s *RunState) Record(taskID string) *domain.TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.records[taskID]
}

// Records возвращает записи в порядке графа.
func (s *RunState) Records() []*domain.TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.TaskRecord, 0, len(s.records))
	for _, t := range s.Graph.Tasks() {
		if rec, ok := s.records[t.ID()]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// AddTask регистрирует задачу, созданную телом другой задачи.
func (s *RunState) AddTask(t *engine.Task) (*domain.TaskRecord, error) {
	rec, err := newRecord(s.Invocation, t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[t.ID()] = rec
	return rec, nil
}

// Status возвращает статус задачи.
func (s *RunState) Status(taskID string) domain.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[taskID]; ok {
		return rec.Status
	}
	return domain.TaskStatusPending
}

// Err возвращает ошибку упавшей или пропущенной задачи.
func (s *RunState) Err(taskID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.errs[taskID]
}

// MarkRunning помечает задачу как выполняющуюся.
func (s *RunState) MarkRunning(taskID string) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[taskID]
	rec.MarkRunning()
	delete(s.interrupted, taskID)
	return rec
}

// MarkAttempts переносит число попыток из горутины задачи.
func (s *RunState) MarkAttempts(taskID string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.records[taskID]; rec != nil && attempts > 0 {
		rec.Attempt = attempts
	}
}

// MarkSucceeded помечает задачу как успешно завершённую.
func (s *RunState) MarkSucceeded(taskID string, results []byte, forwardTo string) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[taskID]
	rec.MarkSucceeded(results, forwardTo)
	return rec
}

// MarkFailed помечает задачу как упавшую.
func (s *RunState) MarkFailed(taskID string, err error) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[taskID]
	rec.MarkFailed(err.Error())
	s.errs[taskID] = err
	s.Registry.Fail(taskID, err)
	return rec
}

// MarkSkipped помечает задачу пропущенной из-за упавшей предпосылки.
func (s *RunState) MarkSkipped(taskID, upstreamID string) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cause := s.errs[upstreamID]
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	err := fmt.Errorf("%w: %s: %w", ErrUpstreamFailed, upstreamID, cause)

	rec := s.records[taskID]
	rec.MarkSkipped(err.Error())
	s.errs[taskID] = err
	s.Registry.Fail(taskID, err)
	return rec
}

// MarkInterrupted возвращает задачу в PENDING: вызов отменён до её старта.
func (s *RunState) MarkInterrupted(taskID string) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[taskID]
	rec.ResetForRestart()
	s.interrupted[taskID] = true
	return rec
}

// IsComplete проверяет, все ли задачи в финальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if !rec.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasFailed проверяет, есть ли упавшие задачи.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Status == domain.TaskStatusFailed {
			return true
		}
	}
	return false
}

// PartitionFailure возвращает первую ошибку партиции в порядке графа:
// упавшую или пропущенную задачу, иначе ErrAborted для незавершённых задач,
// иначе nil.
func (s *RunState) PartitionFailure(key domain.PartitionKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var aborted error
	for _, t := range s.Graph.Tasks() {
		rec, ok := s.records[t.ID()]
		if !ok || rec.Partition != key {
			continue
		}
		switch rec.Status {
		case domain.TaskStatusFailed, domain.TaskStatusSkipped:
			return &TaskError{TaskID: rec.ID, Err: s.errs[rec.ID]}
		case domain.TaskStatusPending, domain.TaskStatusRunning:
			if aborted == nil {
				aborted = &TaskError{TaskID: rec.ID, Err: ErrAborted}
			}
		}
	}
	return aborted
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st RunStats
	st.TotalTasks = len(s.records)
	for _, rec := range s.records {
		switch rec.Status {
		case domain.TaskStatusSucceeded:
			st.SucceededTasks++
		case domain.TaskStatusRunning:
			st.RunningTasks++
		case domain.TaskStatusFailed:
			st.FailedTasks++
		case domain.TaskStatusSkipped:
			st.SkippedTasks++
		default:
			st.PendingTasks++
		}
	}
	return st
}

// RunStats — статистика выполнения вызова.
type RunStats struct {
	TotalTasks     int
	SucceededTasks int
	RunningTasks   int
	FailedTasks    int
	SkippedTasks   int
	PendingTasks   int
}

// RestoreFromRecords восстанавливает граф и состояние из записей job store.
//
// Записи, созданные телом задачи, которая так и не завершилась успешно,
// отбрасываются: при повторном запуске создатель построит их заново.
// Возвращает ID отброшенных записей.
func RestoreFromRecords(inv *domain.Invocation, recs []domain.TaskRecord) (*RunState, []string, error) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	g := engine.NewGraph()
	kept := make(map[string]*domain.TaskRecord, len(recs))
	var order []*domain.TaskRecord
	var dropped []string
	var root *engine.Task

	// 1. Задачи. Создатель всегда старше созданной им задачи.
	for i := range recs {
		rec := &recs[i]

		if rec.CreatedBy != "" {
			creator, ok := kept[rec.CreatedBy]
			if !ok || creator.Status != domain.TaskStatusSucceeded {
				dropped = append(dropped, rec.ID)
				continue
			}
		}

		inputs, err := engine.DecodeValues(rec.Inputs)
		if err != nil {
			return nil, nil, fmt.Errorf("task %s: %w", rec.ID, err)
		}
		t, err := g.RestoreTask(rec.ID, engine.Spec{
			Name:      rec.Name,
			Func:      engine.FuncName(rec.Func),
			Inputs:    inputs,
			Resources: rec.Resources,
			Partition: rec.Partition,
			Head:      true,
		}, rec.Seq, rec.CreatedBy)
		if err != nil {
			return nil, nil, err
		}
		if rec.Attachment == domain.AttachmentRoot && rec.ID == inv.RootTaskID {
			root = t
		}
		kept[rec.ID] = rec
		order = append(order, rec)
	}

	// 2. Рёбра
	for _, rec := range order {
		if rec.Attachment != domain.AttachmentChild && rec.Attachment != domain.AttachmentFollowOn {
			continue
		}
		t, _ := g.Get(rec.ID)
		owner, ok := g.Get(rec.Parent)
		if !ok {
			return nil, nil, fmt.Errorf("task %s: owner %s: %w", rec.ID, rec.Parent, domain.ErrNotFound)
		}
		var err error
		if rec.Attachment == domain.AttachmentChild {
			_, err = g.AddChild(owner, t)
		} else {
			_, err = g.AddFollowOn(owner, t)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	if root == nil {
		return nil, nil, fmt.Errorf("root task %s: %w", inv.RootTaskID, domain.ErrNotFound)
	}

	s := newRunState(inv, root)
	for id, rec := range kept {
		s.records[id] = rec

		if rec.Status != domain.TaskStatusSucceeded {
			rec.ResetForRestart()
			continue
		}
		if rec.ForwardTo != "" {
			if err := s.Registry.Forward(id, rec.ForwardTo); err != nil {
				return nil, nil, err
			}
			continue
		}
		values, err := engine.DecodeValues(rec.Results)
		if err != nil {
			return nil, nil, fmt.Errorf("task %s: %w", id, err)
		}
		if err := s.Registry.Complete(id, values); err != nil {
			return nil, nil, err
		}
	}
	return s, dropped, nil
}
