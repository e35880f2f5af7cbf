package localexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/alignflow/internal/domain"
)

// Restart продолжает вызов из job store.
//
// Задачи в статусе SUCCEEDED не выполняются повторно, их результаты берутся
// из записей. Остальные задачи возвращаются в PENDING. Записи, созданные
// телами незавершённых задач, удаляются: тела создадут их заново.
func (e *Executor) Restart(ctx context.Context) (*Result, error) {
	inv, err := e.store.LoadInvocation(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNothingToRestart
		}
		return nil, fmt.Errorf("load invocation: %w", err)
	}

	recs, err := e.store.ListTasks(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	state, dropped, err := RestoreFromRecords(inv, recs)
	if err != nil {
		return nil, fmt.Errorf("restore invocation %s: %w", inv.ID, err)
	}

	if len(dropped) > 0 {
		if err := e.store.DeleteTasks(ctx, inv.ID, dropped); err != nil {
			return nil, fmt.Errorf("delete stale tasks: %w", err)
		}
	}

	// Сброшенные в PENDING записи
	for _, rec := range state.Records() {
		if rec.Status == domain.TaskStatusPending {
			if err := e.store.SaveTask(ctx, rec); err != nil {
				return nil, fmt.Errorf("save task %s: %w", rec.ID, err)
			}
		}
	}

	inv.Restarts++
	stats := state.Stats()
	e.logger.Info("invocation restarted",
		"invocation_id", inv.ID,
		"restarts", inv.Restarts,
		"tasks", stats.TotalTasks,
		"succeeded", stats.SucceededTasks,
		"stale", len(dropped),
	)

	return e.run(ctx, state)
}
