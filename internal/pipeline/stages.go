package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/estimator"
	"github.com/shaiso/alignflow/internal/toolexec"
)

// Коэффициенты оценки ресурсов относительно размера входов.
var (
	consolidateScale = estimator.Scale{MemoryMult: 20, DiskMult: 4, MinMemory: 1 << 30, MinDisk: 1 << 30}
	vgExportScale    = estimator.Scale{Cores: 1, MemoryMult: 10, DiskMult: 3}
	gfaExportScale   = estimator.Scale{Cores: 1, MemoryMult: 4, DiskMult: 2}
)

// ToolRunner запускает внешние инструменты.
type ToolRunner interface {
	Run(ctx context.Context, cmd toolexec.Command) error
}

// Services — зависимости стадий конвейера.
type Services struct {
	Artifacts ArtifactStore
	Tools     ToolRunner
	Sink      *checkpoint.Sink
}

// Register добавляет функции стадий в реестр.
func Register(funcs *engine.FuncRegistry, svc Services) {
	s := &stages{svc: svc}

	funcs.Register(FuncAlign, s.align)
	funcs.Register(FuncPrep, s.prep)
	funcs.Register(FuncUnzip, s.unzip)
	funcs.Register(FuncConsolidate, estimator.Wrap(s.estimateConsolidate, s.consolidate))
	funcs.Register(FuncHALExport, s.halExport)
	funcs.Register(FuncVGExport, estimator.Wrap(
		estimator.SizeScaled(svc.Artifacts, vgExportScale, 1),
		s.vgExport,
	))
	funcs.Register(FuncGFAExport, estimator.Wrap(
		estimator.SizeScaled(svc.Artifacts, gfaExportScale, 1),
		s.gfaExport,
	))
	funcs.Register(FuncOutputs, s.outputs)
}

type stages struct {
	svc Services
}

func (s *stages) align(tc engine.TaskContext, inputs []any) ([]any, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if _, err := BuildStages(tc.Scope(), tc.Task(), &plan); err != nil {
		return nil, backoff.Permanent(err)
	}

	tc.Logger().Info("partition pipeline assembled",
		"root", plan.Root,
		"genomes", len(plan.Events),
		"outgroups", strings.Join(plan.Outgroups, ","),
		"vg", plan.OutVG,
		"gfa", plan.OutGFA,
	)
	return nil, nil
}

func (s *stages) prep(engine.TaskContext, []any) ([]any, error) {
	return nil, nil
}

// unzip распаковывает .gz-последовательность; остальные проходят как есть.
func (s *stages) unzip(tc engine.TaskContext, inputs []any) ([]any, error) {
	src, err := engine.Arg[string](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	id, err := engine.Arg[domain.ArtifactID](inputs, 1)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if !strings.HasSuffix(src, ".gz") {
		return []any{id}, nil
	}

	ctx := tc.Context()
	in, err := s.svc.Artifacts.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decompress %s: %w", src, err))
	}
	defer gz.Close()

	path := filepath.Join(tc.WorkDir(), strings.TrimSuffix(filepath.Base(src), ".gz"))
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		return nil, backoff.Permanent(fmt.Errorf("decompress %s: %w", src, err))
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	unzipped, err := s.svc.Artifacts.Write(ctx, path)
	if err != nil {
		return nil, err
	}
	tc.Logger().Debug("sequence decompressed", "source", src)
	return []any{unzipped}, nil
}

func (s *stages) estimateConsolidate(tc engine.TaskContext, inputs []any) (domain.Footprint, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return domain.Footprint{}, err
	}
	fp, err := estimator.SizeScaled(s.svc.Artifacts, consolidateScale, 1, 2)(tc, inputs)
	if err != nil {
		return domain.Footprint{}, err
	}
	fp.Cores = plan.ConsCores
	return fp, nil
}

// consolidate запускает cactus_consolidated: PAF и последовательности → c2h и FASTA.
func (s *stages) consolidate(tc engine.TaskContext, inputs []any) ([]any, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	seqs, err := engine.Arg[map[string]domain.ArtifactID](inputs, 1)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	paf, err := engine.Arg[domain.ArtifactID](inputs, 2)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	ctx := tc.Context()
	wd := tc.WorkDir()

	var seqArgs []string
	for _, event := range plan.Events {
		path := filepath.Join(wd, event+".fa")
		if err := s.svc.Artifacts.Read(ctx, seqs[event], path); err != nil {
			return nil, fmt.Errorf("read sequence %s: %w", event, err)
		}
		seqArgs = append(seqArgs, event, path)
	}

	pafPath := filepath.Join(wd, "alignments.paf")
	if err := s.svc.Artifacts.Read(ctx, paf, pafPath); err != nil {
		return nil, fmt.Errorf("read paf: %w", err)
	}
	paramsPath := filepath.Join(wd, "config.xml")
	if err := os.WriteFile(paramsPath, []byte(plan.Params), 0o644); err != nil {
		return nil, err
	}

	cores := plan.ConsCores
	if fp, ok := tc.Resources().Get(); ok && fp.Cores > 0 {
		cores = fp.Cores
	}

	c2h := filepath.Join(wd, "out.c2h")
	fasta := filepath.Join(wd, "out.c2h.fa")
	args := []string{plan.Tools.Consolidated,
		"--sequences", strings.Join(seqArgs, " "),
		"--speciesTree", plan.SpanningTree,
		"--logLevel", "INFO",
		"--alignments", pafPath,
		"--params", paramsPath,
		"--outputFile", c2h,
		"--outputHalFastaFile", fasta,
		"--referenceEvent", plan.Root,
		"--threads", strconv.Itoa(cores),
	}
	if len(plan.Outgroups) > 0 {
		args = append(args, "--outgroupEvents", strings.Join(plan.Outgroups, " "))
	}

	cmd := toolexec.Single(args...)
	cmd.Dir = wd
	cmd.Outputs = []string{c2h, fasta}
	if err := s.svc.Tools.Run(ctx, cmd); err != nil {
		return nil, err
	}

	c2hID, err := s.svc.Artifacts.Write(ctx, c2h)
	if err != nil {
		return nil, err
	}
	fastaID, err := s.svc.Artifacts.Write(ctx, fasta)
	if err != nil {
		return nil, err
	}
	return []any{c2hID, fastaID}, nil
}

// halExport собирает HAL из c2h и пишет его в durable store, если задан чекпоинт.
func (s *stages) halExport(tc engine.TaskContext, inputs []any) ([]any, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	c2hID, err := engine.Arg[domain.ArtifactID](inputs, 1)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	fastaID, err := engine.Arg[domain.ArtifactID](inputs, 2)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	ctx := tc.Context()
	wd := tc.WorkDir()

	c2h := filepath.Join(wd, "out.c2h")
	fasta := filepath.Join(wd, "out.c2h.fa")
	if err := s.svc.Artifacts.Read(ctx, c2hID, c2h); err != nil {
		return nil, err
	}
	if err := s.svc.Artifacts.Read(ctx, fastaID, fasta); err != nil {
		return nil, err
	}

	hal := filepath.Join(wd, "out.hal")
	args := []string{plan.Tools.HalAppend, c2h, fasta, plan.SubTree, hal, "--inMemory"}
	if len(plan.Outgroups) > 0 {
		args = append(args, "--outgroups", strings.Join(plan.Outgroups, ","))
	}
	if plan.Reference != "" {
		args = append(args, "--acyclic", plan.Reference)
	}
	cmd := toolexec.Single(args...)
	cmd.Dir = wd
	cmd.Outputs = []string{hal}
	if err := s.svc.Tools.Run(ctx, cmd); err != nil {
		return nil, err
	}

	out, err := s.store(tc, hal, domain.FormatHAL, plan.Checkpoint)
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

// vgExport конвертирует HAL в VG (hal2vg). VG всегда остаётся артефактом
// для gfa_export, в durable store он пишется, только если запрошен.
func (s *stages) vgExport(tc engine.TaskContext, inputs []any) ([]any, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	halOut, err := engine.Arg[domain.Output](inputs, 1)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	ctx := tc.Context()
	wd := tc.WorkDir()

	hal := filepath.Join(wd, "out.hal")
	if err := s.svc.Artifacts.Read(ctx, halOut.Artifact, hal); err != nil {
		return nil, err
	}

	vgPath := filepath.Join(wd, "out.vg")
	cmd := toolexec.Command{
		Pipeline: [][]string{append([]string{plan.Tools.Hal2VG, hal}, plan.Hal2VGArgs...)},
		Dir:      wd,
		Stdout:   vgPath,
	}
	if err := s.svc.Tools.Run(ctx, cmd); err != nil {
		return nil, err
	}

	var target *domain.CheckpointTarget
	if plan.OutVG {
		target = derivedTarget(plan.Checkpoint, domain.FormatVG)
	}
	out, err := s.store(tc, vgPath, domain.FormatVG, target)
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

// gfaExport конвертирует VG в сжатый GFA (vg view | gzip).
func (s *stages) gfaExport(tc engine.TaskContext, inputs []any) ([]any, error) {
	plan, err := engine.Arg[PartitionPlan](inputs, 0)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	vgOut, err := engine.Arg[domain.Output](inputs, 1)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	ctx := tc.Context()
	wd := tc.WorkDir()

	vgPath := filepath.Join(wd, "out.vg")
	if err := s.svc.Artifacts.Read(ctx, vgOut.Artifact, vgPath); err != nil {
		return nil, err
	}

	gfaPath := filepath.Join(wd, "out.gfa.gz")
	cmd := toolexec.Command{
		Pipeline: [][]string{
			{plan.Tools.VG, "view", "-g", vgPath},
			{plan.Tools.Gzip},
		},
		Dir:    wd,
		Stdout: gfaPath,
	}
	if err := s.svc.Tools.Run(ctx, cmd); err != nil {
		return nil, err
	}

	out, err := s.store(tc, gfaPath, domain.FormatGFA, derivedTarget(plan.Checkpoint, domain.FormatGFA))
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

// outputs возвращает [hal, vg, gfa] — результат головной задачи партиции.
func (s *stages) outputs(_ engine.TaskContext, inputs []any) ([]any, error) {
	out := make([]any, 3)
	copy(out, inputs)
	return out, nil
}

// store кладёт файл в хранилище артефактов и, если задан target, в durable store.
// Неудачный чекпоинт не повторяется телом: Sink уже исчерпал свои попытки.
func (s *stages) store(tc engine.TaskContext, path string, format domain.OutputFormat, target *domain.CheckpointTarget) (domain.Output, error) {
	ctx := tc.Context()

	id, err := s.svc.Artifacts.Write(ctx, path)
	if err != nil {
		return domain.Output{}, err
	}
	out := domain.Output{Format: format, Artifact: id}

	done, err := s.svc.Sink.MaybeCheckpoint(ctx, path, target)
	if err != nil {
		return domain.Output{}, backoff.Permanent(err)
	}
	if done {
		out.Checkpoint = target
	}
	return out, nil
}

func derivedTarget(target *domain.CheckpointTarget, format domain.OutputFormat) *domain.CheckpointTarget {
	if target == nil {
		return nil
	}
	return target.WithKey(checkpoint.DerivedKey(target.Key, format.Extension()))
}
