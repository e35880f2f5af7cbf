package localexec

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/mq"
)

// JobStore — персистентное состояние вызова.
//
// Реализации: jobstore.Memory, jobstore.Dir, repo.JobRepo (PostgreSQL).
type JobStore interface {
	// SaveInvocation создаёт или обновляет вызов.
	SaveInvocation(ctx context.Context, inv *domain.Invocation) error

	// LoadInvocation возвращает вызов или domain.ErrNotFound.
	LoadInvocation(ctx context.Context) (*domain.Invocation, error)

	// SaveTask создаёт или обновляет запись о задаче.
	SaveTask(ctx context.Context, rec *domain.TaskRecord) error

	// ListTasks возвращает записи вызова в порядке Seq.
	ListTasks(ctx context.Context, invocationID uuid.UUID) ([]domain.TaskRecord, error)

	// DeleteTasks удаляет записи (устаревшие после рестарта).
	DeleteTasks(ctx context.Context, invocationID uuid.UUID, ids []string) error
}

// Notifier получает события о завершении задач и партиций.
// Реализация — mq.Publisher.
type Notifier interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
	PublishPartitionCompleted(ctx context.Context, payload mq.PartitionCompletedPayload) error
}
