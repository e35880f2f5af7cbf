package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/alignflow/internal/domain"
)

// schema — таблицы job store. Один вызов на имя job store.
const schema = `
	CREATE TABLE IF NOT EXISTS invocations (
		store        TEXT PRIMARY KEY,
		id           UUID NOT NULL UNIQUE,
		root_task_id TEXT NOT NULL,
		status       TEXT NOT NULL,
		restarts     INT NOT NULL DEFAULT 0,
		started_at   TIMESTAMPTZ,
		finished_at  TIMESTAMPTZ,
		error        TEXT,
		created_at   TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_records (
		invocation_id UUID NOT NULL REFERENCES invocations (id) ON DELETE CASCADE,
		id            TEXT NOT NULL,
		seq           BIGINT NOT NULL,
		name          TEXT NOT NULL,
		func          TEXT NOT NULL,
		partition_key TEXT NOT NULL DEFAULT '',
		parent        TEXT,
		attachment    TEXT NOT NULL,
		created_by    TEXT,
		inputs        JSONB,
		resources     JSONB NOT NULL,
		status        TEXT NOT NULL,
		attempt       INT NOT NULL DEFAULT 0,
		results       JSONB,
		forward_to    TEXT,
		error         TEXT,
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (invocation_id, id)
	);
`

// JobRepo — job store в PostgreSQL.
//
// Несколько job store делят одну базу и различаются именем (--jobStore pg:NAME).
type JobRepo struct {
	pool  *pgxpool.Pool
	store string
}

// NewJobRepo создаёт JobRepo для job store с именем store.
func NewJobRepo(pool *pgxpool.Pool, store string) *JobRepo {
	return &JobRepo{pool: pool, store: store}
}

// EnsureSchema создаёт таблицы, если их нет.
func (r *JobRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveInvocation создаёт или обновляет вызов.
func (r *JobRepo) SaveInvocation(ctx context.Context, inv *domain.Invocation) error {
	query := `
		INSERT INTO invocations (store, id, root_task_id, status, restarts, started_at, finished_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (store) DO UPDATE
		SET status = EXCLUDED.status, restarts = EXCLUDED.restarts,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at,
		    error = EXCLUDED.error
		WHERE invocations.id = EXCLUDED.id
	`
	result, err := r.pool.Exec(ctx, query,
		r.store,
		inv.ID,
		inv.RootTaskID,
		inv.Status,
		inv.Restarts,
		inv.StartedAt,
		inv.FinishedAt,
		nullString(inv.Error),
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save invocation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: job store %s holds another invocation", ErrAlreadyExists, r.store)
	}
	return nil
}

// LoadInvocation возвращает вызов job store или ErrNotFound.
func (r *JobRepo) LoadInvocation(ctx context.Context) (*domain.Invocation, error) {
	query := `
		SELECT id, root_task_id, status, restarts, started_at, finished_at, error, created_at
		FROM invocations
		WHERE store = $1
	`
	var inv domain.Invocation
	var invError *string

	err := r.pool.QueryRow(ctx, query, r.store).Scan(
		&inv.ID,
		&inv.RootTaskID,
		&inv.Status,
		&inv.Restarts,
		&inv.StartedAt,
		&inv.FinishedAt,
		&invError,
		&inv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invocation: %w", err)
	}
	if invError != nil {
		inv.Error = *invError
	}
	return &inv, nil
}

// SaveTask создаёт или обновляет запись о задаче.
func (r *JobRepo) SaveTask(ctx context.Context, rec *domain.TaskRecord) error {
	resourcesJSON, err := json.Marshal(rec.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}

	query := `
		INSERT INTO task_records (invocation_id, id, seq, name, func, partition_key, parent, attachment,
		                          created_by, inputs, resources, status, attempt, results, forward_to,
		                          error, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (invocation_id, id) DO UPDATE
		SET status = EXCLUDED.status, attempt = EXCLUDED.attempt, results = EXCLUDED.results,
		    forward_to = EXCLUDED.forward_to, error = EXCLUDED.error,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at
	`
	_, err = r.pool.Exec(ctx, query,
		rec.InvocationID,
		rec.ID,
		rec.Seq,
		rec.Name,
		rec.Func,
		string(rec.Partition),
		nullString(rec.Parent),
		rec.Attachment,
		nullString(rec.CreatedBy),
		nullJSON(rec.Inputs),
		resourcesJSON,
		rec.Status,
		rec.Attempt,
		nullJSON(rec.Results),
		nullString(rec.ForwardTo),
		nullString(rec.Error),
		rec.StartedAt,
		rec.FinishedAt,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.ID, err)
	}
	return nil
}

// ListTasks возвращает записи вызова в порядке Seq.
func (r *JobRepo) ListTasks(ctx context.Context, invocationID uuid.UUID) ([]domain.TaskRecord, error) {
	query := `
		SELECT invocation_id, id, seq, name, func, partition_key, parent, attachment, created_by,
		       inputs, resources, status, attempt, results, forward_to, error,
		       started_at, finished_at, created_at
		FROM task_records
		WHERE invocation_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, invocationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var recs []domain.TaskRecord
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// DeleteTasks удаляет записи.
func (r *JobRepo) DeleteTasks(ctx context.Context, invocationID uuid.UUID, ids []string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM task_records WHERE invocation_id = $1 AND id = ANY($2)
	`, invocationID, ids)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

// --- Helpers ---

func scanTaskRecord(row pgx.Row) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var partition string
	var parent, createdBy, forwardTo, recError *string
	var inputsJSON, resourcesJSON, resultsJSON []byte

	err := row.Scan(
		&rec.InvocationID,
		&rec.ID,
		&rec.Seq,
		&rec.Name,
		&rec.Func,
		&partition,
		&parent,
		&rec.Attachment,
		&createdBy,
		&inputsJSON,
		&resourcesJSON,
		&rec.Status,
		&rec.Attempt,
		&resultsJSON,
		&forwardTo,
		&recError,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task record: %w", err)
	}

	if err := json.Unmarshal(resourcesJSON, &rec.Resources); err != nil {
		return nil, fmt.Errorf("unmarshal resources: %w", err)
	}
	rec.Partition = domain.PartitionKey(partition)
	rec.Inputs = inputsJSON
	rec.Results = resultsJSON
	rec.Parent = deref(parent)
	rec.CreatedBy = deref(createdBy)
	rec.ForwardTo = deref(forwardTo)
	rec.Error = deref(recError)

	return &rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullJSON возвращает nil для пустого JSON, чтобы в JSONB попал NULL.
func nullJSON(data json.RawMessage) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}
