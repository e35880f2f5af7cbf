package domain

import (
	"errors"
	"sort"
)

// PartitionKey — идентификатор партиции (обычно имя хромосомы).
type PartitionKey string

// WholeInput — маркер единственной партиции в single-режиме.
const WholeInput PartitionKey = ""

// String возвращает имя партиции для логов.
func (k PartitionKey) String() string {
	if k == WholeInput {
		return "(whole)"
	}
	return string(k)
}

// ResultHandle — результат одной партиции.
//
// Ровно одно из двух: Values (результаты головной задачи партиции, promises
// уже разрешены) или Err (маркер неудачи партиции).
type ResultHandle struct {
	Values []any
	Err    error
}

// OK возвращает true, если партиция завершилась успешно.
func (h ResultHandle) OK() bool {
	return h.Err == nil
}

// Failed возвращает маркер неудачи партиции.
func Failed(err error) ResultHandle {
	if err == nil {
		err = errors.New("partition failed")
	}
	return ResultHandle{Err: err}
}

// SortedKeys возвращает ключи результата в стабильном порядке.
func SortedKeys[V any](m map[PartitionKey]V) []PartitionKey {
	keys := make([]PartitionKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
