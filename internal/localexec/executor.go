package localexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/mq"
	"github.com/shaiso/alignflow/internal/telemetry"
)

// Значения конфигурации по умолчанию.
const (
	defaultRetryCount   = 2
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = time.Minute
)

// Executor выполняет граф задач на локальной машине.
//
// Главный цикл — единственный писатель состояния: горутины задач только
// выполняют тела и возвращают результат через канал завершений.
type Executor struct {
	funcs    *engine.FuncRegistry
	store    JobStore
	notifier Notifier

	maxCores         int
	maxMemory        int64
	defaultFootprint domain.Footprint
	cores            *semaphore.Weighted
	memory           *semaphore.Weighted

	retryCount   int
	retryBackoff time.Duration
	workDir      string

	logger *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	// Funcs — реестр функций задач.
	Funcs *engine.FuncRegistry

	// Store — job store вызова.
	Store JobStore

	// Notifier — получатель событий (опционально).
	Notifier Notifier

	// MaxCores — ёмкость по ядрам (default: runtime.NumCPU()).
	MaxCores int

	// MaxMemory — ёмкость по памяти в байтах (0 — без учёта памяти).
	MaxMemory int64

	// DefaultFootprint — значения для незаданных полей footprint (default: 1 ядро).
	DefaultFootprint domain.Footprint

	// RetryCount — число повторов упавшей задачи (default: 2, -1 — без повторов).
	RetryCount int

	// RetryBackoff — начальная задержка между повторами (default: 1s).
	RetryBackoff time.Duration

	// WorkDir — каталог для рабочих каталогов задач (default: os.TempDir()).
	WorkDir string

	// Logger
	Logger *slog.Logger
}

// Result — итог вызова.
type Result struct {
	// Invocation — вызов в финальном статусе.
	Invocation *domain.Invocation

	// Partitions — результат каждой партиции: ключи — партиции детей корня.
	Partitions map[domain.PartitionKey]domain.ResultHandle

	// Stats — статистика задач.
	Stats RunStats
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	maxCores := cfg.MaxCores
	if maxCores <= 0 {
		maxCores = runtime.NumCPU()
	}

	fallback := cfg.DefaultFootprint
	if fallback.Cores <= 0 {
		fallback.Cores = 1
	}

	retryCount := cfg.RetryCount
	switch {
	case retryCount == 0:
		retryCount = defaultRetryCount
	case retryCount < 0:
		retryCount = 0
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		funcs:            cfg.Funcs,
		store:            cfg.Store,
		notifier:         cfg.Notifier,
		maxCores:         maxCores,
		maxMemory:        cfg.MaxMemory,
		defaultFootprint: fallback,
		cores:            semaphore.NewWeighted(int64(maxCores)),
		retryCount:       retryCount,
		retryBackoff:     retryBackoff,
		workDir:          cfg.WorkDir,
		logger:           logger,
	}
	if cfg.MaxMemory > 0 {
		e.memory = semaphore.NewWeighted(cfg.MaxMemory)
	}
	return e
}

// Submit выполняет новый граф с корнем root.
//
// Job store должен быть пустым: продолжить существующий вызов можно только
// через Restart. Ошибки задач не возвращаются как error, они попадают в
// Result.Partitions; error означает, что вызов не удалось провести.
func (e *Executor) Submit(ctx context.Context, root *engine.Task) (*Result, error) {
	if _, err := root.Graph().Validate(root); err != nil {
		return nil, fmt.Errorf("validate graph: %w", err)
	}

	_, err := e.store.LoadInvocation(ctx)
	switch {
	case err == nil:
		return nil, ErrJobStoreExists
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load invocation: %w", err)
	}

	inv := domain.NewInvocation(root.ID())
	state, err := NewRunState(inv, root)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("save invocation: %w", err)
	}
	for _, rec := range state.Records() {
		if err := e.store.SaveTask(ctx, rec); err != nil {
			return nil, fmt.Errorf("save task %s: %w", rec.ID, err)
		}
	}

	e.logger.Info("invocation submitted",
		"invocation_id", inv.ID,
		"root", root.ID(),
		"tasks", state.Graph.Size(),
	)

	return e.run(ctx, state)
}

// completion — итог выполнения задачи, передаваемый главному циклу.
type completion struct {
	task        *engine.Task
	values      []any
	scope       *engine.Scope
	attempts    int
	duration    time.Duration
	err         error
	interrupted bool
}

// run — главный цикл выполнения.
func (e *Executor) run(ctx context.Context, s *RunState) (*Result, error) {
	logger := telemetry.InvocationLogger(e.logger, s.Invocation.ID)
	persistCtx := context.WithoutCancel(ctx)

	s.Invocation.MarkRunning()
	if err := e.store.SaveInvocation(persistCtx, s.Invocation); err != nil {
		return nil, fmt.Errorf("save invocation: %w", err)
	}

	done := make(chan completion)
	inflight := make(map[string]bool)
	var storeErr error

	for {
		if ctx.Err() == nil && storeErr == nil {
			ready, err := e.schedule(persistCtx, s, inflight)
			if err != nil {
				storeErr = err
			}
			for _, t := range ready {
				rec := s.MarkRunning(t.ID())
				if err := e.store.SaveTask(persistCtx, rec); err != nil && storeErr == nil {
					storeErr = fmt.Errorf("save task %s: %w", t.ID(), err)
				}
				inflight[t.ID()] = true
				go e.runTask(ctx, s, t, done)
			}
		}

		if len(inflight) == 0 {
			break
		}

		c := <-done
		delete(inflight, c.task.ID())
		if err := e.complete(persistCtx, s, c, logger); err != nil && storeErr == nil {
			storeErr = err
		}
	}

	if storeErr != nil {
		logger.Error("job store write failed, invocation stopped", "error", storeErr)
		return nil, storeErr
	}

	result := e.collect(persistCtx, s)

	status := domain.RunStatusSucceeded
	errMsg := ""
	failed := 0
	for _, h := range result.Partitions {
		if !h.OK() {
			failed++
		}
	}
	switch {
	case ctx.Err() != nil:
		status = domain.RunStatusCancelled
		errMsg = ctx.Err().Error()
	case failed > 0 || s.HasFailed():
		status = domain.RunStatusFailed
		errMsg = fmt.Sprintf("%d of %d partitions failed", failed, len(result.Partitions))
	}
	s.Invocation.MarkFinished(status, errMsg)
	if err := e.store.SaveInvocation(persistCtx, s.Invocation); err != nil {
		return nil, fmt.Errorf("save invocation: %w", err)
	}

	stats := s.Stats()
	result.Stats = stats
	logger.Info("invocation finished",
		"status", status,
		"tasks", stats.TotalTasks,
		"succeeded", stats.SucceededTasks,
		"failed", stats.FailedTasks,
		"skipped", stats.SkippedTasks,
		"pending", stats.PendingTasks,
		"duration", s.Invocation.Duration(),
	)
	return result, nil
}

// schedule возвращает задачи, все предпосылки которых завершились успешно.
// Задачи с упавшей или пропущенной предпосылкой помечаются SKIPPED.
func (e *Executor) schedule(ctx context.Context, s *RunState, inflight map[string]bool) ([]*engine.Task, error) {
	var ready []*engine.Task

	for changed := true; changed; {
		changed = false
		ready = ready[:0]

	tasks:
		for _, t := range s.Graph.Tasks() {
			if inflight[t.ID()] || s.Status(t.ID()) != domain.TaskStatusPending {
				continue
			}

			runnable := true
			for _, p := range s.Graph.Prerequisites(t) {
				switch s.Status(p.ID()) {
				case domain.TaskStatusSucceeded:
				case domain.TaskStatusFailed, domain.TaskStatusSkipped:
					rec := s.MarkSkipped(t.ID(), p.ID())
					telemetry.TasksTotal.WithLabelValues(string(domain.TaskStatusSkipped)).Inc()
					e.logger.Warn("task skipped", "task_id", t.ID(), "upstream", p.ID())
					if err := e.store.SaveTask(ctx, rec); err != nil {
						return nil, fmt.Errorf("save task %s: %w", t.ID(), err)
					}
					e.notifyTask(ctx, rec)
					changed = true
					continue tasks
				default:
					runnable = false
				}
			}
			if runnable {
				ready = append(ready, t)
			}
		}
	}
	return ready, nil
}

// runTask захватывает ёмкость, выполняет тело с повторами и отправляет
// итог в done. Вызывается в отдельной горутине.
func (e *Executor) runTask(ctx context.Context, s *RunState, t *engine.Task, done chan<- completion) {
	c := completion{task: t}
	defer func() { done <- c }()

	fp, err := e.footprint(t)
	if err != nil {
		c.err = err
		return
	}

	release, err := e.acquire(ctx, fp)
	if err != nil {
		c.interrupted = true
		return
	}
	defer release()

	// Semaphore может выдать ёмкость и по отменённому ctx
	if ctx.Err() != nil {
		c.interrupted = true
		return
	}

	start := time.Now()
	c.values, c.scope, c.attempts, c.err = e.execute(ctx, s, t, fp)
	c.duration = time.Since(start)

	if c.err != nil && ctx.Err() != nil {
		c.interrupted = true
	}
}

// footprint возвращает ресурсы, которые задача займёт на время выполнения.
// Задача с Unresolved-ресурсами выполняет только оценку и ёмкость не занимает.
func (e *Executor) footprint(t *engine.Task) (domain.Footprint, error) {
	fp, ok := t.Resources().Get()
	if !ok {
		return domain.Footprint{}, nil
	}
	if err := fp.Validate(); err != nil {
		return fp, err
	}
	fp = fp.Merge(e.defaultFootprint)

	if fp.Cores > e.maxCores || (e.memory != nil && fp.Memory > e.maxMemory) {
		return fp, fmt.Errorf("%w: requested %s, capacity cores=%d memory=%d",
			ErrInsufficientCapacity, fp, e.maxCores, e.maxMemory)
	}
	return fp, nil
}

// acquire занимает ядра и память. Порядок захвата одинаков для всех задач.
func (e *Executor) acquire(ctx context.Context, fp domain.Footprint) (func(), error) {
	cores := int64(fp.Cores)
	if err := e.cores.Acquire(ctx, cores); err != nil {
		return nil, err
	}

	memory := int64(0)
	if e.memory != nil && fp.Memory > 0 {
		memory = fp.Memory
		if err := e.memory.Acquire(ctx, memory); err != nil {
			e.cores.Release(cores)
			return nil, err
		}
	}

	return func() {
		if memory > 0 {
			e.memory.Release(memory)
		}
		e.cores.Release(cores)
	}, nil
}

// execute разрешает входы и выполняет тело с повторами.
//
// Начатое тело доводится до конца и после отмены ctx: оно получает
// неотменяемый контекст, а отмена лишь запрещает новые попытки.
func (e *Executor) execute(ctx context.Context, s *RunState, t *engine.Task, fp domain.Footprint) ([]any, *engine.Scope, int, error) {
	fn, err := e.funcs.Get(t.Func())
	if err != nil {
		return nil, nil, 0, err
	}

	inputs, err := e.resolveInputs(s, t)
	if err != nil {
		return nil, nil, 0, err
	}

	resources := t.Resources()
	if resources.IsResolved() {
		resources = domain.Resolved(fp)
	}

	logger := telemetry.TaskLogger(telemetry.InvocationLogger(e.logger, s.Invocation.ID), t.ID(), t.Partition().String())
	bodyCtx := context.WithoutCancel(ctx)

	var (
		values   []any
		scope    *engine.Scope
		attempts int
	)

	operation := func() error {
		attempts++

		workDir, err := os.MkdirTemp(e.workDir, "task-"+sanitize(t.ID())+"-")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		defer os.RemoveAll(workDir)

		scope = engine.NewScope(s.Graph, t)
		tc := &taskContext{
			ctx:       bodyCtx,
			task:      t,
			resources: resources,
			logger:    logger.With("attempt", attempts),
			workDir:   workDir,
			scope:     scope,
		}

		values, err = call(fn, tc, inputs)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryBackoff
	policy.MaxInterval = maxRetryBackoff
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		logger.Warn("task attempt failed, retrying",
			"attempt", attempts,
			"retry_in", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.retryCount)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, nil, attempts, err
	}
	return values, scope, attempts, nil
}

// call вызывает тело задачи; паника превращается в неповторяемую ошибку.
func call(fn engine.TaskFunc, tc engine.TaskContext, inputs []any) (values []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("%w: %v", ErrTaskPanicked, r))
		}
	}()
	return fn(tc, inputs)
}

// resolveInputs заменяет promises во входах значениями. Читать можно только
// результаты задач, от которых t транзитивно зависит.
func (e *Executor) resolveInputs(s *RunState, t *engine.Task) ([]any, error) {
	check := func(producerID string) error {
		producer, ok := s.Graph.Get(producerID)
		if !ok {
			return fmt.Errorf("%w: %s", engine.ErrUnknownPromise, producerID)
		}
		if !s.Graph.DependsOn(t, producer) {
			return fmt.Errorf("%w: %s does not wait for %s", engine.ErrPromiseContract, t.ID(), producerID)
		}
		return nil
	}

	resolved, err := s.Registry.ResolveDeep(t.Inputs(), check)
	if err != nil {
		return nil, fmt.Errorf("resolve inputs: %w", err)
	}
	inputs, _ := resolved.([]any)
	return inputs, nil
}

// complete применяет итог задачи к состоянию и job store.
//
// Задачи, созданные телом, сохраняются раньше статуса SUCCEEDED создателя:
// после сбоя между этими записями Restart отбросит их как устаревшие.
func (e *Executor) complete(ctx context.Context, s *RunState, c completion, logger *slog.Logger) error {
	t := c.task
	logger = logger.With(telemetry.KeyTaskID, t.ID())

	if c.interrupted {
		rec := s.MarkInterrupted(t.ID())
		logger.Info("task interrupted", "func", t.Func())
		if err := e.store.SaveTask(ctx, rec); err != nil {
			return fmt.Errorf("save task %s: %w", t.ID(), err)
		}
		return nil
	}

	s.MarkAttempts(t.ID(), c.attempts)
	if c.err == nil {
		c.err = e.commit(ctx, s, c)
	}

	if c.err != nil {
		rec := s.MarkFailed(t.ID(), c.err)
		telemetry.TasksTotal.WithLabelValues(string(domain.TaskStatusFailed)).Inc()
		logger.Warn("task failed",
			"func", t.Func(),
			"partition", t.Partition().String(),
			"attempt", rec.Attempt,
			"error", c.err,
		)
		if err := e.store.SaveTask(ctx, rec); err != nil {
			return fmt.Errorf("save task %s: %w", t.ID(), err)
		}
		e.notifyTask(ctx, rec)
		return nil
	}

	rec := s.Record(t.ID())
	telemetry.TasksTotal.WithLabelValues(string(domain.TaskStatusSucceeded)).Inc()
	telemetry.TaskDuration.WithLabelValues(string(t.Func())).Observe(c.duration.Seconds())
	logger.Info("task succeeded",
		"func", t.Func(),
		"attempt", rec.Attempt,
		"duration", c.duration,
		"forward_to", rec.ForwardTo,
	)
	if err := e.store.SaveTask(ctx, rec); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID(), err)
	}
	e.notifyTask(ctx, rec)
	return nil
}

// commit добавляет в граф задачи, созданные телом, и записывает результат.
func (e *Executor) commit(ctx context.Context, s *RunState, c completion) error {
	t := c.task

	if c.scope != nil {
		if err := c.scope.Commit(); err != nil {
			return fmt.Errorf("commit graph changes: %w", err)
		}
		for _, created := range c.scope.Created() {
			rec, err := s.AddTask(created)
			if err != nil {
				return err
			}
			if err := e.store.SaveTask(ctx, rec); err != nil {
				return fmt.Errorf("save task %s: %w", created.ID(), err)
			}
		}

		if fwd := c.scope.Forwarded(); fwd != nil {
			if err := s.Registry.Forward(t.ID(), fwd.ID()); err != nil {
				return err
			}
			s.MarkSucceeded(t.ID(), nil, fwd.ID())
			return nil
		}
	}

	results, err := engine.EncodeValues(c.values)
	if err != nil {
		return err
	}
	if err := s.Registry.Complete(t.ID(), c.values); err != nil {
		return err
	}
	s.MarkSucceeded(t.ID(), results, "")
	return nil
}

// collect собирает результаты партиций: по одной на каждого ребёнка корня.
func (e *Executor) collect(ctx context.Context, s *RunState) *Result {
	result := &Result{
		Invocation: s.Invocation,
		Partitions: make(map[domain.PartitionKey]domain.ResultHandle),
	}

	for _, head := range s.Graph.Children(s.Root) {
		key := head.Partition()
		handle := e.partitionResult(s, head, key)
		result.Partitions[key] = handle

		status := "succeeded"
		errMsg := ""
		if !handle.OK() {
			status = "failed"
			errMsg = handle.Err.Error()
		}
		telemetry.PartitionsTotal.WithLabelValues(status).Inc()

		if e.notifier != nil {
			payload := mq.PartitionCompletedPayload{
				InvocationID: s.Invocation.ID,
				Partition:    string(key),
				Status:       status,
				Error:        errMsg,
			}
			if err := e.notifier.PublishPartitionCompleted(ctx, payload); err != nil {
				e.logger.Warn("failed to publish partition.completed", "partition", key.String(), "error", err)
			}
		}
	}
	return result
}

func (e *Executor) partitionResult(s *RunState, head *engine.Task, key domain.PartitionKey) domain.ResultHandle {
	if err := s.PartitionFailure(key); err != nil {
		return domain.Failed(err)
	}

	v, err := s.Registry.ResolveDeep(head.Results(), nil)
	if err != nil {
		return domain.Failed(&TaskError{TaskID: head.ID(), Err: err})
	}
	values, _ := v.([]any)
	return domain.ResultHandle{Values: values}
}

// notifyTask публикует событие task.completed, если задан Notifier.
func (e *Executor) notifyTask(ctx context.Context, rec *domain.TaskRecord) {
	if e.notifier == nil {
		return
	}

	payload := mq.TaskCompletedPayload{
		InvocationID: rec.InvocationID,
		TaskID:       rec.ID,
		Partition:    string(rec.Partition),
		Func:         rec.Func,
		Status:       string(rec.Status),
		Error:        rec.Error,
		Attempt:      rec.Attempt,
	}
	if err := e.notifier.PublishTaskCompleted(ctx, payload); err != nil {
		e.logger.Warn("failed to publish task.completed", "task_id", rec.ID, "error", err)
	}
}

// sanitize делает ID задачи пригодным для имени каталога.
func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "#", "_").Replace(id)
}
