package localexec

import "errors"

var (
	// ErrJobStoreExists — в job store уже есть вызов; нужен --restart.
	ErrJobStoreExists = errors.New("job store already holds an invocation, use restart")

	// ErrNothingToRestart — в job store нет вызова.
	ErrNothingToRestart = errors.New("job store holds no invocation to restart")

	// ErrUpstreamFailed — задача пропущена, потому что упала её предпосылка.
	ErrUpstreamFailed = errors.New("upstream task failed")

	// ErrAborted — вызов прерван до завершения задачи.
	ErrAborted = errors.New("invocation aborted before completion")

	// ErrInsufficientCapacity — footprint задачи больше ёмкости substrate.
	ErrInsufficientCapacity = errors.New("task footprint exceeds substrate capacity")

	// ErrTaskPanicked — тело задачи запаниковало.
	ErrTaskPanicked = errors.New("task body panicked")
)

// TaskError — ошибка конкретной задачи.
type TaskError struct {
	TaskID string
	Err    error
}

// Error реализует интерфейс error.
func (e *TaskError) Error() string {
	return "task " + e.TaskID + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *TaskError) Unwrap() error {
	return e.Err
}
