package estimator

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// fakeContext — минимальный TaskContext для вызова тела без substrate.
type fakeContext struct {
	task  *engine.Task
	scope *engine.Scope
}

func newFakeContext(g *engine.Graph, task *engine.Task) *fakeContext {
	return &fakeContext{task: task, scope: engine.NewScope(g, task)}
}

func (c *fakeContext) Context() context.Context    { return context.Background() }
func (c *fakeContext) Task() *engine.Task          { return c.task }
func (c *fakeContext) Resources() domain.Resources { return c.task.Resources() }
func (c *fakeContext) Logger() *slog.Logger        { return slog.Default() }
func (c *fakeContext) WorkDir() string             { return "" }
func (c *fakeContext) Scope() *engine.Scope        { return c.scope }

type fakeSizes map[domain.ArtifactID]int64

func (s fakeSizes) Size(_ context.Context, id domain.ArtifactID) (int64, error) {
	size, ok := s[id]
	if !ok {
		return 0, errors.New("no such artifact")
	}
	return size, nil
}

func TestWrap_EstimatesOnceThenWorks(t *testing.T) {
	g := engine.NewGraph()
	hal := g.NewTask(engine.Spec{Name: "hal", Func: "hal"})
	task := g.NewTask(engine.Spec{
		Name:      "vg",
		Func:      "vg",
		Inputs:    []any{hal.Result(0)},
		Resources: domain.Unresolved(),
	})
	_, err := g.AddFollowOn(hal, task)
	require.NoError(t, err)

	estimates, works := 0, 0
	estimate := SizeScaled(fakeSizes{"h1": 100}, Scale{Cores: 1, MemoryMult: 10, DiskMult: 3}, 0)
	fn := Wrap(
		func(tc engine.TaskContext, inputs []any) (domain.Footprint, error) {
			estimates++
			return estimate(tc, inputs)
		},
		func(tc engine.TaskContext, inputs []any) ([]any, error) {
			works++
			return []any{"vg-artifact"}, nil
		},
	)

	// Первая фаза: оценка и переотправка
	tc := newFakeContext(g, task)
	out, err := fn(tc, []any{domain.ArtifactID("h1")})
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, 1, estimates)
	require.Equal(t, 0, works)

	child := tc.Scope().Forwarded()
	require.NotNil(t, child)
	require.Equal(t, "vg/resourced", child.ID())
	fp, ok := child.Resources().Get()
	require.True(t, ok)
	require.Equal(t, domain.Footprint{Cores: 1, Memory: 1000, Disk: 300}, fp)
	require.Equal(t, task.Inputs(), child.Inputs())
	require.NoError(t, tc.Scope().Commit())

	// Вторая фаза: ресурсы известны, оценка не повторяется
	childCtx := newFakeContext(g, child)
	out, err = fn(childCtx, []any{domain.ArtifactID("h1")})
	require.NoError(t, err)
	require.Equal(t, []any{"vg-artifact"}, out)
	require.Equal(t, 1, estimates)
	require.Equal(t, 1, works)
	require.Empty(t, childCtx.Scope().Created())
}

func TestWrap_EstimateFailureIsPermanent(t *testing.T) {
	g := engine.NewGraph()
	task := g.NewTask(engine.Spec{Name: "vg", Func: "vg", Resources: domain.Unresolved()})

	fn := Wrap(
		SizeScaled(fakeSizes{}, Scale{MemoryMult: 10}, 0),
		func(engine.TaskContext, []any) ([]any, error) {
			t.Fatal("work must not run")
			return nil, nil
		},
	)

	_, err := fn(newFakeContext(g, task), []any{domain.ArtifactID("missing")})
	require.ErrorIs(t, err, ErrEstimateFailed)

	var perm *backoff.PermanentError
	require.True(t, errors.As(err, &perm), "estimation errors must not be retried")
}

func TestWrap_EmptyFootprintRejected(t *testing.T) {
	g := engine.NewGraph()
	task := g.NewTask(engine.Spec{Name: "vg", Func: "vg", Resources: domain.Unresolved()})

	fn := Wrap(
		func(engine.TaskContext, []any) (domain.Footprint, error) { return domain.Footprint{}, nil },
		func(engine.TaskContext, []any) ([]any, error) { return nil, nil },
	)

	_, err := fn(newFakeContext(g, task), nil)
	require.ErrorIs(t, err, ErrEstimateFailed)
}

func TestSizeScaled_RestoredOutput(t *testing.T) {
	estimate := SizeScaled(fakeSizes{"h1": 50}, Scale{MemoryMult: 10, DiskMult: 3, MinDisk: 1000}, 0)

	// Вход после JSON round-trip
	g := engine.NewGraph()
	task := g.NewTask(engine.Spec{Name: "vg", Func: "vg", Resources: domain.Unresolved()})
	restored := map[string]any{"format": "hal", "artifact": "h1"}
	fp, err := estimate(newFakeContext(g, task), []any{restored})
	require.NoError(t, err)
	require.Equal(t, int64(500), fp.Memory)
	require.Equal(t, int64(1000), fp.Disk)
}
