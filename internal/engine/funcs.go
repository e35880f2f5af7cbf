package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/alignflow/internal/domain"
)

// FuncName — имя функции задачи в FuncRegistry.
//
// Задачи ссылаются на функции по имени, чтобы граф можно было восстановить
// из job store.
type FuncName string

// TaskFunc — тело задачи.
//
// inputs — входы задачи с уже разрешёнными promises. Возвращаемый список
// становится результатом задачи (слоты promises).
type TaskFunc func(tc TaskContext, inputs []any) ([]any, error)

// TaskContext — окружение тела задачи, предоставляемое substrate.
type TaskContext interface {
	// Context — контекст выполнения (отмена вызова).
	Context() context.Context

	// Task — выполняемая задача.
	Task() *Task

	// Resources — ресурсы, с которыми задача запущена.
	Resources() domain.Resources

	// Logger — логгер с task_id и partition.
	Logger() *slog.Logger

	// WorkDir — локальный рабочий каталог задачи, удаляется после завершения.
	WorkDir() string

	// Scope — расширение графа из тела задачи.
	Scope() *Scope
}

// FuncRegistry — реестр функций задач по имени.
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[FuncName]TaskFunc
}

// NewFuncRegistry создаёт пустой реестр.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{funcs: make(map[FuncName]TaskFunc)}
}

// Register добавляет функцию. Повторная регистрация заменяет предыдущую.
func (r *FuncRegistry) Register(name FuncName, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.funcs[name] = fn
}

// Get возвращает функцию по имени.
func (r *FuncRegistry) Get(name FuncName) (TaskFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	return fn, nil
}

// Names возвращает зарегистрированные имена в алфавитном порядке.
func (r *FuncRegistry) Names() []FuncName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]FuncName, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
