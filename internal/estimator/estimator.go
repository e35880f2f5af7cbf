// Package estimator реализует двухфазный запуск задач с отложенной оценкой ресурсов.
//
// Задача, размер входов которой известен только после завершения
// предыдущих стадий, создаётся с domain.Unresolved(). При первом запуске
// обёртка читает дешёвые метаданные входа, вычисляет footprint и добавляет
// саму задачу ребёнком уже с Resolved-ресурсами, перенаправляя на него свой
// результат. Второй запуск видит Resolved и сразу выполняет работу.
package estimator

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/telemetry"
)

// ErrEstimateFailed — не удалось оценить ресурсы. Ошибка не повторяется.
var ErrEstimateFailed = errors.New("resource estimation failed")

// resolvedSuffix — имя ребёнка, которого создаёт фаза оценки.
const resolvedSuffix = "resourced"

// EstimateFunc вычисляет footprint по разрешённым входам задачи.
type EstimateFunc func(tc engine.TaskContext, inputs []any) (domain.Footprint, error)

// Wrap возвращает функцию задачи с двухфазным запуском.
//
// Ошибки фазы оценки оборачиваются в backoff.Permanent: substrate не
// повторяет их.
func Wrap(estimate EstimateFunc, work engine.TaskFunc) engine.TaskFunc {
	return func(tc engine.TaskContext, inputs []any) ([]any, error) {
		if tc.Resources().IsResolved() {
			return work(tc, inputs)
		}

		fp, err := estimate(tc, inputs)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrEstimateFailed, err))
		}
		if fp.IsZero() {
			return nil, backoff.Permanent(fmt.Errorf("%w: empty footprint", ErrEstimateFailed))
		}
		if err := fp.Validate(); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrEstimateFailed, err))
		}

		if err := Resubmit(tc, fp); err != nil {
			return nil, backoff.Permanent(err)
		}

		telemetry.ResourceEstimates.Inc()
		tc.Logger().Info("resources estimated, task resubmitted",
			"cores", fp.Cores,
			"memory", fp.Memory,
			"disk", fp.Disk,
		)
		return nil, nil
	}
}

// Resubmit добавляет текущую задачу ребёнком с конкретным footprint и
// перенаправляет на него результат.
func Resubmit(tc engine.TaskContext, fp domain.Footprint) error {
	task := tc.Task()
	scope := tc.Scope()

	spec := task.Spec()
	spec.Name = resolvedSuffix
	spec.Resources = domain.Resolved(fp)
	spec.Head = false

	child := scope.NewTask(spec)
	if _, err := scope.AddChild(task, child); err != nil {
		return fmt.Errorf("resubmit %s: %w", task.ID(), err)
	}
	if err := scope.Forward(child); err != nil {
		return fmt.Errorf("forward %s: %w", task.ID(), err)
	}
	return nil
}
