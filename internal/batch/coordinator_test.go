package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shaiso/alignflow/internal/artifact"
	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/jobstore"
	"github.com/shaiso/alignflow/internal/localexec"
	"github.com/shaiso/alignflow/internal/pipeline"
	"github.com/shaiso/alignflow/internal/toolexec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeTools создаёт ожидаемые выходы инструментов. consolidate падает,
// если PAF партиции содержит "BAD".
type fakeTools struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeTools) Run(_ context.Context, cmd toolexec.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tool := cmd.Tool()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[tool]++

	args := cmd.Pipeline[0]
	for i, a := range args {
		if a == "--alignments" && i+1 < len(args) {
			data, _ := os.ReadFile(args[i+1])
			if strings.Contains(string(data), "BAD") {
				return fmt.Errorf("%s: %w: exit status 1", tool, toolexec.ErrToolFailed)
			}
		}
	}

	for _, p := range cmd.Outputs {
		if err := os.WriteFile(p, []byte(tool), 0o644); err != nil {
			return err
		}
	}
	if cmd.Stdout != "" {
		return os.WriteFile(cmd.Stdout, []byte(tool), 0o644)
	}
	return nil
}

func (f *fakeTools) count(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tool]
}

// countingSubstrate считает отправки и делегирует executor'у.
type countingSubstrate struct {
	inner   Substrate
	submits int
}

func (s *countingSubstrate) Submit(ctx context.Context, root *engine.Task) (*localexec.Result, error) {
	s.submits++
	return s.inner.Submit(ctx, root)
}

func (s *countingSubstrate) Restart(ctx context.Context) (*localexec.Result, error) {
	return s.inner.Restart(ctx)
}

type env struct {
	dir       string
	tools     *fakeTools
	substrate *countingSubstrate
	coord     *Coordinator
}

func newEnv(t *testing.T, defaults pipeline.Options) *env {
	t.Helper()
	dir := t.TempDir()

	artifacts, err := artifact.NewFileStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	tools := &fakeTools{}
	funcs := engine.NewFuncRegistry()
	sink := checkpoint.NewSink(&checkpoint.Router{}, checkpoint.SinkConfig{RetryCount: -1, Logger: discard})
	pipeline.Register(funcs, pipeline.Services{Artifacts: artifacts, Tools: tools, Sink: sink})

	exec := localexec.New(localexec.Config{
		Funcs:        funcs,
		Store:        jobstore.NewMemory(),
		MaxCores:     4,
		RetryCount:   -1,
		RetryBackoff: time.Millisecond,
		WorkDir:      dir,
		Logger:       discard,
	})
	substrate := &countingSubstrate{inner: exec}

	coord := New(Config{
		Substrate: substrate,
		Funcs:     funcs,
		Artifacts: artifacts,
		Sink:      sink,
		Pipeline:  config.Default(),
		Defaults:  defaults,
		Logger:    discard,
	})
	return &env{dir: dir, tools: tools, substrate: substrate, coord: coord}
}

// chrom пишет seqfile и PAF хромосомы и возвращает вход партиции.
func (e *env) chrom(t *testing.T, name, paf string) PartitionInput {
	t.Helper()
	dir := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	write := func(file, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	}
	write("a.fa", ">a_"+name+"\nACGT\n")
	write("b.fa", ">b_"+name+"\nACGA\n")
	write("c.fa", ">c_"+name+"\nAC\n")
	write("aln.paf", paf)
	write("seqfile.txt", "((a:0.1,b:0.1)ab:0.1,c:0.2);\na a.fa\nb b.fa\nc c.fa\n")

	return PartitionInput{
		SeqFile: filepath.Join(dir, "seqfile.txt"),
		PAF:     filepath.Join(dir, "aln.paf"),
	}
}

func TestRunSingle(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	in := e.chrom(t, "whole", "a\t4\t0\t4\t+\tb\t4\t0\t4\t4\t4\t60\n")
	outHAL := filepath.Join(e.dir, "out.hal")

	handle, err := e.coord.RunSingle(context.Background(), SingleInput{SeqFile: in.SeqFile, PAF: in.PAF, OutHAL: outHAL})
	require.NoError(t, err)
	require.True(t, handle.OK(), "partition failed: %v", handle.Err)

	written, err := e.coord.Export(context.Background(),
		map[domain.PartitionKey]domain.ResultHandle{domain.WholeInput: handle},
		map[domain.PartitionKey]pipeline.Destinations{domain.WholeInput: pipeline.DestinationsFor(outHAL)})
	require.NoError(t, err)
	assert.Equal(t, []string{outHAL}, written[domain.WholeInput])
	assert.FileExists(t, outHAL)
}

func TestRunBatch_IsolatesPartitionFailures(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	inputs := map[domain.PartitionKey]PartitionInput{
		"chr1": e.chrom(t, "chr1", "a\t4\t0\t4\t+\tb\t4\t0\t4\t4\t4\t60\n"),
		"chr2": e.chrom(t, "chr2", "BAD\n"),
		"chr3": e.chrom(t, "chr3", "a\t4\t0\t4\t+\tc\t4\t0\t4\t4\t4\t60\n"),
	}
	outDir := filepath.Join(e.dir, "out")

	results, err := e.coord.RunBatch(context.Background(), inputs, outDir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []domain.PartitionKey{"chr1", "chr2", "chr3"}, domain.SortedKeys(results))
	assert.True(t, results["chr1"].OK(), "chr1: %v", results["chr1"].Err)
	assert.True(t, results["chr3"].OK(), "chr3: %v", results["chr3"].Err)
	require.False(t, results["chr2"].OK())
	assert.ErrorIs(t, results["chr2"].Err, toolexec.ErrToolFailed)

	// Один запуск consolidate на партицию, halAppend только у успешных
	assert.Equal(t, 3, e.tools.count("cactus_consolidated"))
	assert.Equal(t, 2, e.tools.count("halAppendCactusSubtree"))

	failures := Failures(results)
	require.Error(t, failures)
	assert.Contains(t, failures.Error(), "partition chr2")
	assert.NotContains(t, failures.Error(), "partition chr1")

	keys := domain.SortedKeys(inputs)
	written, err := e.coord.Export(context.Background(), results, BatchDestinations(outDir, keys))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(outDir, "chr1.hal")}, written["chr1"])
	assert.Equal(t, []string{filepath.Join(outDir, "chr3.hal")}, written["chr3"])
	assert.NotContains(t, written, domain.PartitionKey("chr2"))
}

func TestRunBatch_ConfigErrorAbortsBeforeSubmit(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	good := e.chrom(t, "chr1", "x\n")
	inputs := map[domain.PartitionKey]PartitionInput{
		"chr1": good,
		"chr2": {SeqFile: filepath.Join(e.dir, "missing.txt"), PAF: good.PAF},
		"chr3": {SeqFile: good.SeqFile, PAF: good.PAF, ConsCores: 64},
		"chr4": {SeqFile: good.SeqFile, PAF: good.PAF, ConsMemory: 32 << 30},
	}

	// consCores 64 и consMemory 32G превышают ёмкость substrate
	e.coord.defaults.MaxCores = 8
	e.coord.defaults.MaxMemory = 16 << 30

	results, err := e.coord.RunBatch(context.Background(), inputs, filepath.Join(e.dir, "out"))
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "partition chr2")
	assert.Contains(t, err.Error(), "partition chr3")
	assert.Contains(t, err.Error(), "partition chr4")
	assert.NotContains(t, err.Error(), "partition chr1")
	assert.Zero(t, e.substrate.submits)
	assert.Zero(t, e.tools.count("cactus_consolidated"))
}

func TestRunBatch_Empty(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	_, err := e.coord.RunBatch(context.Background(), nil, e.dir)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Zero(t, e.substrate.submits)
}

func TestNormalize(t *testing.T) {
	boom := errors.New("boom")
	got := normalize(map[domain.PartitionKey]domain.ResultHandle{
		"chr1":  {Values: []any{1}},
		"chr2":  domain.Failed(boom),
		"extra": {Values: []any{2}},
	}, []domain.PartitionKey{"chr1", "chr2", "chr3"})

	require.Len(t, got, 3)
	assert.True(t, got["chr1"].OK())
	assert.ErrorIs(t, got["chr2"].Err, boom)
	assert.ErrorIs(t, got["chr3"].Err, ErrPartitionMissing)
	assert.NotContains(t, got, domain.PartitionKey("extra"))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "s3://bucket/run/chr1.hal", OutputPath("s3://bucket/run/", "chr1.hal"))
	assert.Equal(t, filepath.Join("out", "chr1.hal"), OutputPath("out", "chr1.hal"))
}
