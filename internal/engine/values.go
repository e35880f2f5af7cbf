package engine

import (
	"encoding/json"
	"fmt"
)

// CollectPromises возвращает все promises внутри v (на любой глубине).
func CollectPromises(v any) []Promise {
	var out []Promise
	walk(v, func(p Promise) { out = append(out, p) })
	return out
}

func walk(v any, fn func(Promise)) {
	switch val := v.(type) {
	case Promise:
		fn(val)
	case []any:
		for _, item := range val {
			walk(item, fn)
		}
	case []Promise:
		for _, item := range val {
			fn(item)
		}
	case map[string]any:
		for _, item := range val {
			walk(item, fn)
		}
	case map[string]Promise:
		for _, item := range val {
			fn(item)
		}
	}
}

// EncodeValues сериализует входы или результаты задачи для job store.
func EncodeValues(values []any) (json.RawMessage, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	return data, nil
}

// DecodeValues восстанавливает значения из job store; закодированные
// promises снова становятся Promise.
func DecodeValues(data json.RawMessage) ([]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var values []any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	for i := range values {
		values[i] = restorePromises(values[i])
	}
	return values, nil
}

func restorePromises(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if raw, ok := val[promiseKey]; ok && len(val) == 1 {
			if m, ok := raw.(map[string]any); ok {
				task, _ := m["task"].(string)
				slot, _ := m["slot"].(float64)
				return Promise{TaskID: task, Slot: int(slot)}
			}
		}
		for k, item := range val {
			val[k] = restorePromises(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = restorePromises(item)
		}
		return val
	default:
		return v
	}
}

// As приводит значение к типу T.
//
// Живое значение того же типа возвращается как есть; значение, прошедшее
// через JSON (после --restart), декодируется повторно.
func As[T any](v any) (T, error) {
	var result T
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if v == nil {
		return result, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return result, fmt.Errorf("marshal value: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal value into %T: %w", result, err)
	}
	return result, nil
}

// Arg возвращает i-й вход, приведённый к типу T.
func Arg[T any](inputs []any, i int) (T, error) {
	if i < 0 || i >= len(inputs) {
		var zero T
		return zero, fmt.Errorf("input %d out of range (%d inputs)", i, len(inputs))
	}
	v, err := As[T](inputs[i])
	if err != nil {
		return v, fmt.Errorf("input %d: %w", i, err)
	}
	return v, nil
}
