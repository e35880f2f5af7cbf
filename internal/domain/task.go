package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Attachment — способ, которым task прикреплён к графу.
type Attachment string

const (
	// AttachmentRoot — корень графа (зонтичная задача вызова).
	AttachmentRoot Attachment = "ROOT"

	// AttachmentChild — ребёнок: ждёт только тело родителя.
	AttachmentChild Attachment = "CHILD"

	// AttachmentFollowOn — follow-on: ждёт всё поддерево предшественника.
	AttachmentFollowOn Attachment = "FOLLOW_ON"
)

// TaskRecord — персистентная запись о task в job store.
//
// Job store — единственный источник правды о том, что уже сделано:
// при --restart граф восстанавливается из этих записей, а задачи в статусе
// SUCCEEDED повторно не выполняются.
type TaskRecord struct {
	// ID — детерминированный идентификатор task внутри вызова.
	ID string `json:"id"`

	// InvocationID — ссылка на вызов.
	InvocationID uuid.UUID `json:"invocation_id"`

	// Seq — порядковый номер создания (сохраняет порядок детей).
	Seq int64 `json:"seq"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// Func — имя функции в реестре.
	Func string `json:"func"`

	// Partition — партиция, которой принадлежит task.
	Partition PartitionKey `json:"partition"`

	// Parent — ID задачи, к которой прикреплён task (пусто для корня).
	Parent string `json:"parent,omitempty"`

	// Attachment — тип связи с Parent.
	Attachment Attachment `json:"attachment"`

	// CreatedBy — ID задачи, тело которой создало этот task (пусто, если task
	// создан при построении графа).
	CreatedBy string `json:"created_by,omitempty"`

	// Inputs — входы в JSON, promises закодированы как {"$promise": ...}.
	Inputs json.RawMessage `json:"inputs,omitempty"`

	// Resources — запрошенный footprint.
	Resources Resources `json:"resources"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Attempt — номер попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Results — результаты в JSON (заполняется при SUCCEEDED).
	Results json.RawMessage `json:"results,omitempty"`

	// ForwardTo — ID ребёнка, результат которого является результатом этого task.
	ForwardTo string `json:"forward_to,omitempty"`

	// Error — текст ошибки при FAILED/SKIPPED.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала последней попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
func (t *TaskRecord) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён.
func (t *TaskRecord) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkRunning переводит task в статус RUNNING.
func (t *TaskRecord) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Attempt++
}

// MarkSucceeded переводит task в статус SUCCEEDED с результатами.
func (t *TaskRecord) MarkSucceeded(results json.RawMessage, forwardTo string) {
	now := time.Now()
	t.Status = TaskStatusSucceeded
	t.FinishedAt = &now
	t.Results = results
	t.ForwardTo = forwardTo
	t.Error = ""
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *TaskRecord) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = err
}

// MarkSkipped переводит task в статус SKIPPED.
func (t *TaskRecord) MarkSkipped(reason string) {
	now := time.Now()
	t.Status = TaskStatusSkipped
	t.FinishedAt = &now
	t.Error = reason
}

// ResetForRestart возвращает незавершённый task в PENDING.
// Попытки считаются заново, как при свежем запуске.
func (t *TaskRecord) ResetForRestart() {
	t.Status = TaskStatusPending
	t.Attempt = 0
	t.StartedAt = nil
	t.FinishedAt = nil
	t.Error = ""
	t.Results = nil
	t.ForwardTo = ""
}
