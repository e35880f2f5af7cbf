package jobstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/localexec"
)

var (
	_ localexec.JobStore = (*Memory)(nil)
	_ localexec.JobStore = (*Dir)(nil)
)

func stores(t *testing.T) map[string]localexec.JobStore {
	t.Helper()

	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	return map[string]localexec.JobStore{
		"memory": NewMemory(),
		"dir":    dir,
	}
}

func TestJobStore_InvocationNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LoadInvocation(context.Background())
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestJobStore_InvocationRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			inv := domain.NewInvocation("root")
			require.NoError(t, store.SaveInvocation(ctx, inv))

			inv.MarkRunning()
			inv.Restarts = 2
			require.NoError(t, store.SaveInvocation(ctx, inv))

			got, err := store.LoadInvocation(ctx)
			require.NoError(t, err)
			assert.Equal(t, inv.ID, got.ID)
			assert.Equal(t, "root", got.RootTaskID)
			assert.Equal(t, domain.RunStatusRunning, got.Status)
			assert.Equal(t, 2, got.Restarts)
		})
	}
}

func TestJobStore_TasksOrderedBySeq(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			inv := uuid.New()
			other := uuid.New()

			for _, rec := range []domain.TaskRecord{
				{ID: "root/cons#2", InvocationID: inv, Seq: 3},
				{ID: "root", InvocationID: inv, Seq: 1},
				{ID: "root/cons", InvocationID: inv, Seq: 2, Inputs: json.RawMessage(`["a"]`)},
				{ID: "foreign", InvocationID: other, Seq: 1},
			} {
				rec := rec
				require.NoError(t, store.SaveTask(ctx, &rec))
			}

			recs, err := store.ListTasks(ctx, inv)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.Equal(t, "root", recs[0].ID)
			assert.Equal(t, "root/cons", recs[1].ID)
			assert.Equal(t, "root/cons#2", recs[2].ID)
			assert.JSONEq(t, `["a"]`, string(recs[1].Inputs))
		})
	}
}

func TestJobStore_DeleteTasks(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			inv := uuid.New()
			for i, id := range []string{"a", "a/b", "a/c"} {
				rec := domain.TaskRecord{ID: id, InvocationID: inv, Seq: int64(i)}
				require.NoError(t, store.SaveTask(ctx, &rec))
			}

			require.NoError(t, store.DeleteTasks(ctx, inv, []string{"a/b", "missing"}))

			recs, err := store.ListTasks(ctx, inv)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "a", recs[0].ID)
			assert.Equal(t, "a/c", recs[1].ID)
		})
	}
}

func TestMemory_StoresCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec := domain.TaskRecord{ID: "t", Status: domain.TaskStatusPending}
	require.NoError(t, m.SaveTask(ctx, &rec))

	rec.Status = domain.TaskStatusSucceeded

	got, ok := m.Task("t")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}
