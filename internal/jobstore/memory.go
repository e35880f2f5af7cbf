package jobstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/alignflow/internal/domain"
)

// Memory — job store в памяти. Хранит копии, а не указатели вызывающего.
type Memory struct {
	mu    sync.RWMutex
	inv   *domain.Invocation
	tasks map[string]domain.TaskRecord
}

// NewMemory создаёт пустой Memory.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.TaskRecord)}
}

// SaveInvocation создаёт или обновляет вызов.
func (m *Memory) SaveInvocation(_ context.Context, inv *domain.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inv
	m.inv = &cp
	return nil
}

// LoadInvocation возвращает вызов или domain.ErrNotFound.
func (m *Memory) LoadInvocation(_ context.Context) (*domain.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.inv == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m.inv
	return &cp, nil
}

// SaveTask создаёт или обновляет запись о задаче.
func (m *Memory) SaveTask(_ context.Context, rec *domain.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[rec.ID] = *rec
	return nil
}

// ListTasks возвращает записи вызова в порядке Seq.
func (m *Memory) ListTasks(_ context.Context, invocationID uuid.UUID) ([]domain.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if rec.InvocationID == invocationID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// DeleteTasks удаляет записи.
func (m *Memory) DeleteTasks(_ context.Context, _ uuid.UUID, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}

// Task возвращает копию записи по ID.
func (m *Memory) Task(id string) (domain.TaskRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[id]
	return rec, ok
}
