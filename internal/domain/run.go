package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invocation — один вызов пайплайна (single или batch) в job store.
//
// На один job store приходится ровно один вызов: --restart продолжает
// именно его, а не создаёт новый.
type Invocation struct {
	// ID — уникальный идентификатор вызова.
	ID uuid.UUID `json:"id"`

	// RootTaskID — ID зонтичной задачи.
	RootTaskID string `json:"root_task_id"`

	// Status — текущий статус вызова.
	Status RunStatus `json:"status"`

	// Restarts — сколько раз вызов продолжали через --restart.
	Restarts int `json:"restarts"`

	// StartedAt — время первого запуска.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время последнего завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — сводка ошибок по партициям.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewInvocation создаёт вызов в статусе PENDING.
func NewInvocation(rootTaskID string) *Invocation {
	return &Invocation{
		ID:         uuid.New(),
		RootTaskID: rootTaskID,
		Status:     RunStatusPending,
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (r *Invocation) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// MarkRunning переводит вызов в статус RUNNING.
func (r *Invocation) MarkRunning() {
	now := time.Now()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.FinishedAt = nil
	r.Status = RunStatusRunning
}

// MarkFinished фиксирует итоговый статус.
func (r *Invocation) MarkFinished(status RunStatus, errMsg string) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	r.Error = errMsg
}
