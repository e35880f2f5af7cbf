package engine

import "errors"

// Ошибки построения графа.
var (
	// ErrNilTask — вместо задачи передан nil.
	ErrNilTask = errors.New("task is nil")

	// ErrForeignTask — задача принадлежит другому графу.
	ErrForeignTask = errors.New("task belongs to another graph")

	// ErrAlreadyAttached — задача уже прикреплена к родителю или предшественнику.
	ErrAlreadyAttached = errors.New("task already attached")

	// ErrCyclicDependency — ребро создало бы цикл.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrDetachedTask — задача не достижима из корня.
	ErrDetachedTask = errors.New("task is not attached to the root")

	// ErrNotRoot — задача, переданная как корень, к чему-то прикреплена.
	ErrNotRoot = errors.New("task is not a root")

	// ErrDuplicateTaskID — задача с таким ID уже есть в графе.
	ErrDuplicateTaskID = errors.New("duplicate task ID")

	// ErrUnknownPromise — promise ссылается на задачу, которой нет в графе.
	ErrUnknownPromise = errors.New("promise references unknown task")
)

// Ошибки promise.
var (
	// ErrNotResolved — результат ещё не записан.
	ErrNotResolved = errors.New("promise not resolved")

	// ErrAlreadyResolved — повторная запись результата задачи.
	ErrAlreadyResolved = errors.New("promise already resolved")

	// ErrProducerFailed — задача-производитель завершилась с ошибкой.
	ErrProducerFailed = errors.New("producer task failed")

	// ErrSlotOutOfRange — запрошен несуществующий слот результата.
	ErrSlotOutOfRange = errors.New("result slot out of range")

	// ErrPromiseContract — promise прочитан задачей, которая не зависит от производителя.
	ErrPromiseContract = errors.New("promise read from a task that does not depend on its producer")

	// ErrForwardLoop — цепочка перенаправлений результата зациклилась.
	ErrForwardLoop = errors.New("result forwarding loop")
)

// ErrUnknownFunc — функция задачи не зарегистрирована.
var ErrUnknownFunc = errors.New("unknown task function")

// ValidationError — ошибка построения графа с контекстом.
type ValidationError struct {
	TaskID  string // ID задачи, где произошла ошибка
	Field   string // связь или поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return "task " + e.TaskID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(taskID, field, message string, err error) *ValidationError {
	return &ValidationError{
		TaskID:  taskID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
