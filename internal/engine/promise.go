package engine

import (
	"encoding/json"
	"fmt"
	"sync"
)

// AllSlots — слот, обозначающий весь список результатов задачи.
const AllSlots = -1

// maxForwardDepth ограничивает длину цепочки перенаправлений.
const maxForwardDepth = 64

// Promise — ссылка на ещё не вычисленный результат задачи.
//
// Promise можно хранить, копировать и передавать во входы других задач до
// того, как он разрешится. Читать его может только тело задачи, которая
// транзитивно зависит от производителя; это проверяет substrate.
type Promise struct {
	TaskID string
	Slot   int
}

func (p Promise) String() string {
	if p.Slot == AllSlots {
		return "promise(" + p.TaskID + ")"
	}
	return fmt.Sprintf("promise(%s[%d])", p.TaskID, p.Slot)
}

type promiseJSON struct {
	Task string `json:"task"`
	Slot int    `json:"slot"`
}

// promiseKey — ключ, по которому promise узнаётся после JSON round-trip.
const promiseKey = "$promise"

// MarshalJSON кодирует promise как {"$promise": {"task": ..., "slot": ...}}.
func (p Promise) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]promiseJSON{promiseKey: {Task: p.TaskID, Slot: p.Slot}})
}

// UnmarshalJSON декодирует promise из формы MarshalJSON.
func (p *Promise) UnmarshalJSON(data []byte) error {
	var raw map[string]promiseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, ok := raw[promiseKey]
	if !ok {
		return fmt.Errorf("not a promise: %s", data)
	}
	p.TaskID, p.Slot = v.Task, v.Slot
	return nil
}

// Registry — таблица разрешённых результатов.
//
// Единственный писатель — substrate (по одной записи на задачу), читателей
// сколько угодно. Читатель видит либо весь результат, либо ErrNotResolved.
type Registry struct {
	mu       sync.RWMutex
	results  map[string][]any
	forwards map[string]string
	failures map[string]error
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{
		results:  make(map[string][]any),
		forwards: make(map[string]string),
		failures: make(map[string]error),
	}
}

// Complete записывает результаты задачи. Повторная запись — ErrAlreadyResolved.
func (r *Registry) Complete(taskID string, values []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settledLocked(taskID) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, taskID)
	}
	stored := make([]any, len(values))
	copy(stored, values)
	r.results[taskID] = stored
	return nil
}

// Forward записывает, что результат taskID равен результату задачи to.
func (r *Registry) Forward(taskID, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settledLocked(taskID) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, taskID)
	}
	r.forwards[taskID] = to
	return nil
}

// Fail помечает задачу упавшей; promises на неё разрешаются как ошибка.
func (r *Registry) Fail(taskID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settledLocked(taskID) {
		return
	}
	r.failures[taskID] = err
}

func (r *Registry) settledLocked(taskID string) bool {
	_, done := r.results[taskID]
	_, fwd := r.forwards[taskID]
	_, failed := r.failures[taskID]
	return done || fwd || failed
}

// Producer возвращает ID задачи, которая реально производит результат
// taskID (с учётом перенаправлений).
func (r *Registry) Producer(taskID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.producerLocked(taskID)
}

func (r *Registry) producerLocked(taskID string) (string, error) {
	id := taskID
	for i := 0; i < maxForwardDepth; i++ {
		next, ok := r.forwards[id]
		if !ok {
			return id, nil
		}
		id = next
	}
	return "", fmt.Errorf("%w: %s", ErrForwardLoop, taskID)
}

// Resolve возвращает значение promise без рекурсивного разрешения вложенных promises.
func (r *Registry) Resolve(p Promise) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.producerLocked(p.TaskID)
	if err != nil {
		return nil, err
	}
	if cause, failed := r.failures[id]; failed {
		return nil, fmt.Errorf("%w: %s: %w", ErrProducerFailed, id, cause)
	}
	values, ok := r.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotResolved, p)
	}

	if p.Slot == AllSlots {
		out := make([]any, len(values))
		copy(out, values)
		return out, nil
	}
	if p.Slot < 0 || p.Slot >= len(values) {
		return nil, fmt.Errorf("%w: %s has %d slots", ErrSlotOutOfRange, p, len(values))
	}
	return values[p.Slot], nil
}

// ResolveDeep заменяет все promises внутри v их значениями.
//
// check вызывается для каждой задачи-производителя до чтения; он может
// запретить чтение (контракт зависимости). nil — без проверки.
func (r *Registry) ResolveDeep(v any, check func(producerID string) error) (any, error) {
	return r.resolveDeep(v, check, 0)
}

func (r *Registry) resolveDeep(v any, check func(string) error, depth int) (any, error) {
	if depth > maxForwardDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrForwardLoop)
	}

	switch val := v.(type) {
	case Promise:
		if check != nil {
			id, err := r.Producer(val.TaskID)
			if err != nil {
				return nil, err
			}
			if err := check(id); err != nil {
				return nil, err
			}
		}
		resolved, err := r.Resolve(val)
		if err != nil {
			return nil, err
		}
		return r.resolveDeep(resolved, check, depth+1)

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			res, err := r.resolveDeep(item, check, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil

	case []Promise:
		out := make([]any, len(val))
		for i, item := range val {
			res, err := r.resolveDeep(item, check, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			res, err := r.resolveDeep(item, check, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil

	case map[string]Promise:
		out := make(map[string]any, len(val))
		for k, item := range val {
			res, err := r.resolveDeep(item, check, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil

	default:
		return v, nil
	}
}

// IsSettled возвращает true, если у задачи есть результат, перенаправление или ошибка.
func (r *Registry) IsSettled(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settledLocked(taskID)
}
