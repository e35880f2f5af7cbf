package localexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/estimator"
	"github.com/shaiso/alignflow/internal/jobstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

// recorder считает запуски тел и запоминает порядок завершения.
type recorder struct {
	mu    sync.Mutex
	runs  map[string]int
	order []string
}

func newRecorder() *recorder {
	return &recorder{runs: make(map[string]int)}
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id]++
	r.order = append(r.order, id)
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

func (r *recorder) index(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

// testFuncs регистрирует функции, которыми собираются тестовые графы.
func testFuncs(rec *recorder, failing *atomic.Bool) *engine.FuncRegistry {
	funcs := engine.NewFuncRegistry()

	funcs.Register("noop", func(tc engine.TaskContext, _ []any) ([]any, error) {
		rec.record(tc.Task().ID())
		return nil, nil
	})

	// value возвращает свои входы.
	funcs.Register("value", func(tc engine.TaskContext, inputs []any) ([]any, error) {
		rec.record(tc.Task().ID())
		return inputs, nil
	})

	// sum складывает целые входы.
	funcs.Register("sum", func(tc engine.TaskContext, inputs []any) ([]any, error) {
		rec.record(tc.Task().ID())
		total := 0
		for i := range inputs {
			n, err := engine.Arg[int](inputs, i)
			if err != nil {
				return nil, err
			}
			total += n
		}
		return []any{total}, nil
	})

	// split создаёт двух детей и follow-on, суммирующий их результаты.
	funcs.Register("split", func(tc engine.TaskContext, inputs []any) ([]any, error) {
		rec.record(tc.Task().ID())
		scope := tc.Scope()
		self := tc.Task()

		left := scope.NewTask(engine.Spec{Name: "left", Func: "value", Inputs: []any{inputs[0]}})
		right := scope.NewTask(engine.Spec{Name: "right", Func: "value", Inputs: []any{inputs[1]}})
		if _, err := scope.AddChild(self, left); err != nil {
			return nil, err
		}
		if _, err := scope.AddChild(self, right); err != nil {
			return nil, err
		}

		total := scope.NewTask(engine.Spec{Name: "total", Func: "sum", Inputs: []any{left.Result(0), right.Result(0)}})
		if _, err := scope.AddFollowOn(self, total); err != nil {
			return nil, err
		}
		return nil, scope.Forward(total)
	})

	funcs.Register("flaky", func(tc engine.TaskContext, inputs []any) ([]any, error) {
		rec.record(tc.Task().ID())
		if failing.Load() {
			return nil, errBoom
		}
		return inputs, nil
	})

	return funcs
}

func testExecutor(funcs *engine.FuncRegistry, store JobStore) *Executor {
	return New(Config{
		Funcs:        funcs,
		Store:        store,
		MaxCores:     4,
		RetryCount:   -1,
		RetryBackoff: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// batchGraph строит корень и по голове на каждую партицию.
func batchGraph(t *testing.T, heads map[string]engine.Spec) (*engine.Graph, *engine.Task) {
	t.Helper()

	g := engine.NewGraph()
	root := g.NewTask(engine.Spec{Name: "root", Func: "noop"})
	for _, key := range domain.SortedKeys(toKeys(heads)) {
		spec := heads[string(key)]
		spec.Partition = key
		spec.Head = true
		_, err := g.AddChild(root, g.NewTask(spec))
		require.NoError(t, err)
	}
	return g, root
}

func toKeys(m map[string]engine.Spec) map[domain.PartitionKey]engine.Spec {
	out := make(map[domain.PartitionKey]engine.Spec, len(m))
	for k, v := range m {
		out[domain.PartitionKey(k)] = v
	}
	return out
}

func intAt(t *testing.T, h domain.ResultHandle, i int) int {
	t.Helper()
	require.True(t, h.OK(), "partition failed: %v", h.Err)
	v, err := engine.Arg[int](h.Values, i)
	require.NoError(t, err)
	return v
}

func TestSubmit_FollowOnWaitsForSubtree(t *testing.T) {
	rec := newRecorder()
	exec := testExecutor(testFuncs(rec, new(atomic.Bool)), jobstore.NewMemory())

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "split", Inputs: []any{2, 3}},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, res.Invocation.Status)
	assert.Equal(t, 5, intAt(t, res.Partitions["chr1"], 0))

	total := rec.index("chr1/total")
	require.GreaterOrEqual(t, total, 0)
	assert.Greater(t, total, rec.index("chr1/left"))
	assert.Greater(t, total, rec.index("chr1/right"))
	assert.Greater(t, rec.index("chr1/left"), rec.index("chr1"))
	assert.Equal(t, 5, res.Stats.SucceededTasks)
}

func TestSubmit_PartitionBulkhead(t *testing.T) {
	rec := newRecorder()
	failing := new(atomic.Bool)
	failing.Store(true)
	exec := testExecutor(testFuncs(rec, failing), jobstore.NewMemory())

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "value", Inputs: []any{1}},
		"chr2": {Name: "chr2", Func: "flaky", Inputs: []any{2}},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)

	assert.Len(t, res.Partitions, 2)
	assert.Equal(t, 1, intAt(t, res.Partitions["chr1"], 0))

	chr2 := res.Partitions["chr2"]
	require.False(t, chr2.OK())
	assert.ErrorIs(t, chr2.Err, errBoom)

	var taskErr *TaskError
	require.ErrorAs(t, chr2.Err, &taskErr)
	assert.Equal(t, "chr2", taskErr.TaskID)

	assert.Equal(t, domain.RunStatusFailed, res.Invocation.Status)
	assert.Contains(t, res.Invocation.Error, "1 of 2 partitions failed")
}

func TestSubmit_SkipsDependentsOfFailedTask(t *testing.T) {
	rec := newRecorder()
	failing := new(atomic.Bool)
	failing.Store(true)
	store := jobstore.NewMemory()
	exec := testExecutor(testFuncs(rec, failing), store)

	g := engine.NewGraph()
	root := g.NewTask(engine.Spec{Name: "root", Func: "noop"})
	head := g.NewTask(engine.Spec{Name: "chr1", Func: "flaky", Partition: "chr1", Head: true})
	_, err := g.AddChild(root, head)
	require.NoError(t, err)
	after := g.NewTask(engine.Spec{Name: "after", Func: "value"})
	_, err = g.AddFollowOn(head, after)
	require.NoError(t, err)

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)

	assert.Zero(t, rec.count("after"))
	saved, ok := store.Task("after")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusSkipped, saved.Status)
	assert.Contains(t, saved.Error, ErrUpstreamFailed.Error())
	assert.False(t, res.Partitions["chr1"].OK())
}

func TestSubmit_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	funcs := engine.NewFuncRegistry()
	funcs.Register("noop", func(engine.TaskContext, []any) ([]any, error) { return nil, nil })
	funcs.Register("transient", func(engine.TaskContext, []any) ([]any, error) {
		if calls.Add(1) == 1 {
			return nil, errBoom
		}
		return []any{"ok"}, nil
	})

	store := jobstore.NewMemory()
	exec := New(Config{
		Funcs:        funcs,
		Store:        store,
		RetryCount:   2,
		RetryBackoff: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "transient"},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	require.True(t, res.Partitions["chr1"].OK())
	assert.Equal(t, int32(2), calls.Load())

	saved, ok := store.Task("chr1")
	require.True(t, ok)
	assert.Equal(t, 2, saved.Attempt)
}

func TestSubmit_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	funcs := engine.NewFuncRegistry()
	funcs.Register("noop", func(engine.TaskContext, []any) ([]any, error) { return nil, nil })
	funcs.Register("fatal", func(engine.TaskContext, []any) ([]any, error) {
		calls.Add(1)
		return nil, backoff.Permanent(errBoom)
	})

	exec := New(Config{
		Funcs:        funcs,
		Store:        jobstore.NewMemory(),
		RetryCount:   3,
		RetryBackoff: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "fatal"},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Partitions["chr1"].Err, errBoom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_InsufficientCapacity(t *testing.T) {
	rec := newRecorder()
	exec := testExecutor(testFuncs(rec, new(atomic.Bool)), jobstore.NewMemory())

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "value", Resources: domain.Resolved(domain.Footprint{Cores: 64})},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Partitions["chr1"].Err, ErrInsufficientCapacity)
	assert.Zero(t, rec.count("chr1"))
}

func TestSubmit_RespectsCoreCapacity(t *testing.T) {
	var running, peak atomic.Int32
	funcs := engine.NewFuncRegistry()
	funcs.Register("noop", func(engine.TaskContext, []any) ([]any, error) { return nil, nil })
	funcs.Register("busy", func(engine.TaskContext, []any) ([]any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})

	exec := New(Config{
		Funcs:    funcs,
		Store:    jobstore.NewMemory(),
		MaxCores: 2,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	heads := make(map[string]engine.Spec)
	for _, key := range []string{"chr1", "chr2", "chr3", "chr4"} {
		heads[key] = engine.Spec{Name: key, Func: "busy", Resources: domain.Resolved(domain.Footprint{Cores: 2})}
	}
	_, root := batchGraph(t, heads)

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, res.Invocation.Status)
	assert.Equal(t, int32(1), peak.Load())
}

func TestSubmit_PromiseContractViolation(t *testing.T) {
	rec := newRecorder()
	exec := testExecutor(testFuncs(rec, new(atomic.Bool)), jobstore.NewMemory())

	g := engine.NewGraph()
	root := g.NewTask(engine.Spec{Name: "root", Func: "noop"})
	head := g.NewTask(engine.Spec{Name: "chr1", Func: "noop", Partition: "chr1", Head: true})
	_, err := g.AddChild(root, head)
	require.NoError(t, err)

	producer := g.NewTask(engine.Spec{Name: "producer", Func: "value", Inputs: []any{1}})
	reader := g.NewTask(engine.Spec{Name: "reader", Func: "value", Inputs: []any{producer.Result(0)}})
	_, err = g.AddChild(head, producer)
	require.NoError(t, err)
	_, err = g.AddChild(head, reader)
	require.NoError(t, err)

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Partitions["chr1"].Err, engine.ErrPromiseContract)
	assert.Zero(t, rec.count("reader"))
}

func TestSubmit_DeferredResources(t *testing.T) {
	var estimated, worked atomic.Int32
	funcs := engine.NewFuncRegistry()
	funcs.Register("noop", func(engine.TaskContext, []any) ([]any, error) { return nil, nil })
	funcs.Register("deferred", estimator.Wrap(
		func(engine.TaskContext, []any) (domain.Footprint, error) {
			estimated.Add(1)
			return domain.Footprint{Cores: 1, Memory: 1 << 20}, nil
		},
		func(tc engine.TaskContext, inputs []any) ([]any, error) {
			worked.Add(1)
			fp, _ := tc.Resources().Get()
			return []any{fp.Memory}, nil
		},
	))

	exec := New(Config{
		Funcs:     funcs,
		Store:     jobstore.NewMemory(),
		MaxMemory: 1 << 30,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "deferred", Resources: domain.Unresolved()},
	})

	res, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, intAt(t, res.Partitions["chr1"], 0))
	assert.Equal(t, int32(1), estimated.Load())
	assert.Equal(t, int32(1), worked.Load())
}

func TestSubmit_JobStoreExists(t *testing.T) {
	rec := newRecorder()
	store := jobstore.NewMemory()
	exec := testExecutor(testFuncs(rec, new(atomic.Bool)), store)

	_, root := batchGraph(t, map[string]engine.Spec{"chr1": {Name: "chr1", Func: "value"}})
	_, err := exec.Submit(context.Background(), root)
	require.NoError(t, err)

	_, again := batchGraph(t, map[string]engine.Spec{"chr1": {Name: "chr1", Func: "value"}})
	_, err = exec.Submit(context.Background(), again)
	assert.ErrorIs(t, err, ErrJobStoreExists)
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	rec := newRecorder()
	exec := testExecutor(testFuncs(rec, new(atomic.Bool)), jobstore.NewMemory())

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "value"},
		"chr2": {Name: "chr2", Func: "value"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := exec.Submit(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, res.Invocation.Status)
	assert.Len(t, res.Partitions, 2)
	for _, key := range []domain.PartitionKey{"chr1", "chr2"} {
		assert.ErrorIs(t, res.Partitions[key].Err, ErrAborted)
	}
}

func TestSubmit_AbortLetsRunningTaskFinish(t *testing.T) {
	rec := newRecorder()
	funcs := testFuncs(rec, new(atomic.Bool))
	store := jobstore.NewMemory()

	started := make(chan struct{})
	release := make(chan struct{})
	var bodyErr error
	funcs.Register("slow", func(tc engine.TaskContext, inputs []any) ([]any, error) {
		rec.record(tc.Task().ID())
		close(started)
		<-release
		bodyErr = tc.Context().Err()
		return inputs, nil
	})

	g := engine.NewGraph()
	root := g.NewTask(engine.Spec{Name: "root", Func: "noop"})
	head := g.NewTask(engine.Spec{Name: "chr1", Func: "slow", Inputs: []any{3}, Partition: "chr1", Head: true})
	_, err := g.AddChild(root, head)
	require.NoError(t, err)
	after := g.NewTask(engine.Spec{Name: "after", Func: "value"})
	_, err = g.AddFollowOn(head, after)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := testExecutor(funcs, store).Submit(ctx, root)
		finished <- outcome{res, err}
	}()

	<-started
	cancel()
	close(release)
	out := <-finished
	require.NoError(t, out.err)

	assert.NoError(t, bodyErr, "running body must not see the abort")
	assert.Equal(t, domain.RunStatusCancelled, out.res.Invocation.Status)
	assert.ErrorIs(t, out.res.Partitions["chr1"].Err, ErrAborted)
	assert.Zero(t, rec.count("after"), "no task is scheduled after the abort")

	recs, err := store.ListTasks(context.Background(), out.res.Invocation.ID)
	require.NoError(t, err)
	statuses := make(map[string]domain.TaskStatus, len(recs))
	for _, r := range recs {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, domain.TaskStatusSucceeded, statuses["chr1"])
	assert.Equal(t, domain.TaskStatusPending, statuses["after"])

	// Рестарт продолжает с follow-on, не повторяя завершённое тело
	res, err := testExecutor(funcs, store).Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, res.Invocation.Status)
	assert.Equal(t, 3, intAt(t, res.Partitions["chr1"], 0))
	assert.Equal(t, 1, rec.count("chr1"))
	assert.Equal(t, 1, rec.count("after"))
}

func TestRestart_NothingToRestart(t *testing.T) {
	exec := testExecutor(engine.NewFuncRegistry(), jobstore.NewMemory())

	_, err := exec.Restart(context.Background())
	assert.ErrorIs(t, err, ErrNothingToRestart)
}

func TestRestart_SkipsSucceededTasks(t *testing.T) {
	rec := newRecorder()
	failing := new(atomic.Bool)
	failing.Store(true)
	store := jobstore.NewMemory()
	funcs := testFuncs(rec, failing)

	_, root := batchGraph(t, map[string]engine.Spec{
		"chr1": {Name: "chr1", Func: "split", Inputs: []any{4, 5}},
		"chr2": {Name: "chr2", Func: "flaky", Inputs: []any{7}},
	})

	first, err := testExecutor(funcs, store).Submit(context.Background(), root)
	require.NoError(t, err)
	require.True(t, first.Partitions["chr1"].OK())
	require.False(t, first.Partitions["chr2"].OK())

	failing.Store(false)

	second, err := testExecutor(funcs, store).Restart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, second.Invocation.Status)
	assert.Equal(t, 1, second.Invocation.Restarts)
	assert.Equal(t, first.Invocation.ID, second.Invocation.ID)
	assert.Equal(t, 9, intAt(t, second.Partitions["chr1"], 0))
	assert.Equal(t, 7, intAt(t, second.Partitions["chr2"], 0))

	// Успешные задачи не выполнялись повторно
	assert.Equal(t, 1, rec.count("root"))
	assert.Equal(t, 1, rec.count("chr1"))
	assert.Equal(t, 1, rec.count("chr1/total"))
	assert.Equal(t, 2, rec.count("chr2"))
}

func TestRestoreFromRecords_DropsTasksOfUnfinishedCreator(t *testing.T) {
	inv := domain.NewInvocation("root")
	recs := []domain.TaskRecord{
		{ID: "root", Seq: 1, Name: "root", Func: "noop", Attachment: domain.AttachmentRoot, Status: domain.TaskStatusSucceeded},
		{ID: "chr1", Seq: 2, Name: "chr1", Func: "split", Partition: "chr1", Parent: "root",
			Attachment: domain.AttachmentChild, Status: domain.TaskStatusRunning},
		{ID: "chr1/left", Seq: 3, Name: "left", Func: "value", Partition: "chr1", Parent: "chr1",
			Attachment: domain.AttachmentChild, CreatedBy: "chr1", Status: domain.TaskStatusSucceeded},
	}

	state, dropped, err := RestoreFromRecords(inv, recs)
	require.NoError(t, err)

	assert.Equal(t, []string{"chr1/left"}, dropped)
	assert.Equal(t, 2, state.Graph.Size())
	assert.Equal(t, domain.TaskStatusPending, state.Status("chr1"))
	assert.Equal(t, domain.TaskStatusSucceeded, state.Status("root"))
	assert.True(t, state.Registry.IsSettled("root"))
}
