package localexec

import (
	"context"
	"log/slog"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// taskContext — реализация engine.TaskContext для одной попытки задачи.
type taskContext struct {
	ctx       context.Context
	task      *engine.Task
	resources domain.Resources
	logger    *slog.Logger
	workDir   string
	scope     *engine.Scope
}

var _ engine.TaskContext = (*taskContext)(nil)

func (c *taskContext) Context() context.Context    { return c.ctx }
func (c *taskContext) Task() *engine.Task          { return c.task }
func (c *taskContext) Resources() domain.Resources { return c.resources }
func (c *taskContext) Logger() *slog.Logger        { return c.logger }
func (c *taskContext) WorkDir() string             { return c.workDir }
func (c *taskContext) Scope() *engine.Scope        { return c.scope }
