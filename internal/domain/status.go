package domain

// RunStatus — статус вызова пайплайна (invocation).
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED (хотя бы одна партиция упала)
//	          (или) → CANCELLED (вызов прерван, возможен --restart)
type RunStatus string

const (
	// RunStatusPending — граф построен, но ещё не отправлен на выполнение.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — граф выполняется.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все партиции завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы одна партиция завершилась с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — вызов прерван до завершения.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED (после всех retry)
//	        ↘ SKIPPED (упала одна из предпосылок)
type TaskStatus string

const (
	// TaskStatusPending — task ждёт своих предпосылок.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — тело task выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — task успешно завершён, результаты записаны.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — task завершился с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — task не запускался, потому что упала его предпосылка.
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// IsFailure возвращает true для FAILED и SKIPPED.
func (s TaskStatus) IsFailure() bool {
	return s == TaskStatusFailed || s == TaskStatusSkipped
}
