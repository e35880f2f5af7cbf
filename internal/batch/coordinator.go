package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/localexec"
	"github.com/shaiso/alignflow/internal/pipeline"
)

// FuncUmbrella — функция зонтичной задачи, детьми которой являются партиции.
const FuncUmbrella engine.FuncName = "alignflow"

// ErrPartitionMissing — substrate не вернул результат партиции.
var ErrPartitionMissing = errors.New("partition result missing")

// Substrate — исполнитель графа задач.
type Substrate interface {
	Submit(ctx context.Context, root *engine.Task) (*localexec.Result, error)
	Restart(ctx context.Context) (*localexec.Result, error)
}

// PartitionInput — входы одной партиции батча.
type PartitionInput struct {
	SeqFile string
	PAF     string

	// ConsCores и ConsMemory переопределяют значения батча, если заданы.
	ConsCores  int
	ConsMemory int64
}

// SingleInput — входы single-режима.
type SingleInput struct {
	SeqFile string
	PAF     string
	OutHAL  string
}

// Config — зависимости Coordinator.
type Config struct {
	Substrate Substrate
	Funcs     *engine.FuncRegistry
	Artifacts pipeline.ArtifactStore
	Sink      *checkpoint.Sink

	// Pipeline — конфигурация конвейера (общая для всех партиций).
	Pipeline config.Pipeline

	// Defaults — параметры партиций по умолчанию; Partition, PAF и OutHAL
	// заполняются для каждой партиции.
	Defaults pipeline.Options

	Logger *slog.Logger
}

// Coordinator собирает партиции, отправляет их в substrate и приводит
// результат к ключам входа.
type Coordinator struct {
	substrate Substrate
	artifacts pipeline.ArtifactStore
	sink      *checkpoint.Sink
	pipeline  config.Pipeline
	defaults  pipeline.Options
	assembler pipeline.Assembler
	exporter  *pipeline.Exporter
	logger    *slog.Logger
}

// New создаёт Coordinator и регистрирует функцию зонтичной задачи.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Funcs != nil {
		cfg.Funcs.Register(FuncUmbrella, func(tc engine.TaskContext, _ []any) ([]any, error) {
			tc.Logger().Info("partitions dispatched", "partitions", len(tc.Task().Graph().Children(tc.Task())))
			return nil, nil
		})
	}
	return &Coordinator{
		substrate: cfg.Substrate,
		artifacts: cfg.Artifacts,
		sink:      cfg.Sink,
		pipeline:  cfg.Pipeline,
		defaults:  cfg.Defaults,
		exporter:  pipeline.NewExporter(cfg.Artifacts, logger),
		logger:    logger,
	}
}

// RunSingle выравнивает один seqfile; результат — под ключом WholeInput.
func (c *Coordinator) RunSingle(ctx context.Context, in SingleInput) (domain.ResultHandle, error) {
	opts := c.defaults
	opts.Partition = domain.WholeInput
	opts.PAF = in.PAF
	opts.OutHAL = in.OutHAL

	plan, err := c.plan(in.SeqFile, opts)
	if err != nil {
		return domain.ResultHandle{}, err
	}

	results, err := c.submit(ctx, []*pipeline.PartitionPlan{plan})
	if err != nil {
		return domain.ResultHandle{}, err
	}
	return results[domain.WholeInput], nil
}

// RunBatch выравнивает партиции под одной зонтичной задачей.
//
// Ключи результата всегда совпадают с ключами inputs. Ошибка возвращается
// только если батч не удалось отправить (конфигурация, импорт, substrate);
// неудачи отдельных партиций — маркеры в результате.
func (c *Coordinator) RunBatch(ctx context.Context, inputs map[domain.PartitionKey]PartitionInput, outDir string) (map[domain.PartitionKey]domain.ResultHandle, error) {
	if len(inputs) == 0 {
		return nil, config.Errorf("chromFile", "no partitions")
	}

	var (
		plans []*pipeline.PartitionPlan
		errs  *multierror.Error
	)
	for _, key := range domain.SortedKeys(inputs) {
		in := inputs[key]

		opts := c.defaults
		opts.Partition = key
		opts.PAF = in.PAF
		opts.OutHAL = OutputPath(outDir, string(key)+domain.FormatHAL.Extension())
		if in.ConsCores > 0 {
			opts.ConsCores = in.ConsCores
		}
		if in.ConsMemory > 0 {
			opts.ConsMemory = in.ConsMemory
		}

		plan, err := c.plan(in.SeqFile, opts)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: %w", key, err))
			continue
		}
		plans = append(plans, plan)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	results, err := c.submit(ctx, plans)
	if err != nil {
		return nil, err
	}
	return normalize(results, domain.SortedKeys(inputs)), nil
}

// Restart продолжает прерванный вызов из job store.
func (c *Coordinator) Restart(ctx context.Context) (map[domain.PartitionKey]domain.ResultHandle, error) {
	res, err := c.substrate.Restart(ctx)
	if err != nil {
		return nil, err
	}
	c.logSummary(res.Partitions)
	return res.Partitions, nil
}

func (c *Coordinator) plan(seqFile string, opts pipeline.Options) (*pipeline.PartitionPlan, error) {
	sf, err := pipeline.ReadSeqFile(seqFile, c.pipeline.InternalNodePrefix())
	if err != nil {
		return nil, err
	}
	return pipeline.Plan(sf, c.pipeline, opts)
}

// submit импортирует входы, собирает граф и отправляет его в substrate.
func (c *Coordinator) submit(ctx context.Context, plans []*pipeline.PartitionPlan) (map[domain.PartitionKey]domain.ResultHandle, error) {
	if err := c.probe(ctx, plans); err != nil {
		return nil, err
	}

	g := engine.NewGraph()
	root := g.NewTask(engine.Spec{Name: string(FuncUmbrella), Func: FuncUmbrella})

	for _, plan := range plans {
		if err := pipeline.Import(ctx, c.artifacts, plan); err != nil {
			return nil, fmt.Errorf("partition %s: %w", plan.Partition, err)
		}
		head, err := c.assembler.Assemble(g, plan)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", plan.Partition, err)
		}
		if _, err := g.AddChild(root, head); err != nil {
			return nil, err
		}
	}

	res, err := c.substrate.Submit(ctx, root)
	if err != nil {
		return nil, err
	}
	c.logSummary(res.Partitions)

	keys := make([]domain.PartitionKey, len(plans))
	for i, p := range plans {
		keys[i] = p.Partition
	}
	return normalize(res.Partitions, keys), nil
}

// probe проверяет каждое durable-назначение до отправки задач.
func (c *Coordinator) probe(ctx context.Context, plans []*pipeline.PartitionPlan) error {
	if c.sink == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, plan := range plans {
		if plan.Checkpoint == nil {
			continue
		}
		key, err := checkpoint.ProbeKey(plan.Checkpoint.Key)
		if err != nil {
			return err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := c.sink.Probe(ctx, plan.Checkpoint); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) logSummary(results map[domain.PartitionKey]domain.ResultHandle) {
	failed := 0
	for _, h := range results {
		if !h.OK() {
			failed++
		}
	}
	c.logger.Info("alignment finished",
		"partitions", len(results),
		"succeeded", len(results)-failed,
		"failed", failed,
	)
}

// normalize приводит результат substrate к ключам keys: отсутствующие
// партиции становятся маркерами ErrPartitionMissing, лишние отбрасываются.
func normalize(results map[domain.PartitionKey]domain.ResultHandle, keys []domain.PartitionKey) map[domain.PartitionKey]domain.ResultHandle {
	out := make(map[domain.PartitionKey]domain.ResultHandle, len(keys))
	for _, key := range keys {
		h, ok := results[key]
		if !ok {
			h = domain.Failed(fmt.Errorf("%w: %s", ErrPartitionMissing, key))
		}
		out[key] = h
	}
	return out
}

// Export копирует выходы успешных партиций в их назначения.
// Выходы, ушедшие в durable store, пропускаются. Неудачные партиции
// не экспортируются; ошибки экспорта собираются по всем партициям.
func (c *Coordinator) Export(ctx context.Context, results map[domain.PartitionKey]domain.ResultHandle, dests map[domain.PartitionKey]pipeline.Destinations) (map[domain.PartitionKey][]string, error) {
	written := make(map[domain.PartitionKey][]string, len(results))
	var errs *multierror.Error
	for _, key := range domain.SortedKeys(results) {
		h := results[key]
		if !h.OK() {
			continue
		}
		dest, ok := dests[key]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: no destination", key))
			continue
		}
		paths, err := c.exporter.Export(ctx, h.Values, dest)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: %w", key, err))
			continue
		}
		written[key] = paths
	}
	return written, errs.ErrorOrNil()
}

// BatchDestinations возвращает назначения партиций батча в каталоге outDir.
func BatchDestinations(outDir string, keys []domain.PartitionKey) map[domain.PartitionKey]pipeline.Destinations {
	out := make(map[domain.PartitionKey]pipeline.Destinations, len(keys))
	for _, key := range keys {
		out[key] = pipeline.DestinationsFor(OutputPath(outDir, string(key)+domain.FormatHAL.Extension()))
	}
	return out
}

// Failures собирает ошибки неудачных партиций. Nil — все партиции успешны.
func Failures(results map[domain.PartitionKey]domain.ResultHandle) error {
	var errs *multierror.Error
	for _, key := range domain.SortedKeys(results) {
		if h := results[key]; !h.OK() {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: %w", key, h.Err))
		}
	}
	return errs.ErrorOrNil()
}

// OutputPath соединяет каталог или URL назначения с именем файла.
func OutputPath(dir, name string) string {
	if strings.Contains(dir, "://") {
		return strings.TrimRight(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}
