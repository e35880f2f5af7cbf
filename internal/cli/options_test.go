package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
)

func TestJobStoreKind(t *testing.T) {
	tests := []struct {
		spec      string
		wantKind  string
		wantValue string
		wantErr   bool
	}{
		{"", "mem", "", false},
		{"mem", "mem", "", false},
		{"./js", "dir", "./js", false},
		{"pg:chr-run", "pg", "chr-run", false},
		{"pg:", "", "", true},
		{"s3://bucket/js", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			kind, value, err := jobStoreKind(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestOptions_RetryCount(t *testing.T) {
	assert.Equal(t, -1, (&Options{RetryCount: 0}).retryCount())
	assert.Equal(t, 3, (&Options{RetryCount: 3}).retryCount())
}

func TestOptions_RestartRequiresPersistentStore(t *testing.T) {
	assert.Error(t, (&Options{Restart: true, JobStore: "mem"}).validateRestart())
	assert.NoError(t, (&Options{Restart: true, JobStore: t.TempDir()}).validateRestart())
	assert.NoError(t, (&Options{JobStore: "mem"}).validateRestart())
}

func TestOptions_PlanOptions(t *testing.T) {
	o := &Options{ConsCores: 4, ConsMemory: "2G", MaxCores: 8, MaxMemory: "64G", OutVG: true, Root: "Anc1"}
	opts, err := o.planOptions()
	require.NoError(t, err)
	assert.Equal(t, 4, opts.ConsCores)
	assert.Equal(t, int64(2<<30), opts.ConsMemory)
	assert.Equal(t, 8, opts.MaxCores)
	assert.Equal(t, int64(64<<30), opts.MaxMemory)
	assert.True(t, opts.OutVG)
	assert.Equal(t, "Anc1", opts.Root)

	_, err = (&Options{ConsMemory: "lots"}).planOptions()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = (&Options{MaxCores: -1}).planOptions()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = (&Options{MaxMemory: "99999999999T"}).planOptions()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOptions_PipelineConfig(t *testing.T) {
	cfg, err := (&Options{BarMaskFilter: -1}).pipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Bar(), cfg.Bar())

	cfg, err = (&Options{Pangenome: true, SingleCopySpecies: "human", BarMaskFilter: 100}).pipelineConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Bar().PartialOrderAlignment)
	assert.Equal(t, 100, cfg.Bar().Poa.MaskFilter)
	assert.Zero(t, cfg.Caf().MinimumBlockHomologySupport)

	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte("max_outgroups = 3\n"), 0o644))
	cfg, err = (&Options{ConfigFile: path, BarMaskFilter: -1}).pipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxOutgroups())
}

func TestBuildReports(t *testing.T) {
	results := map[domain.PartitionKey]domain.ResultHandle{
		"chr2": domain.Failed(assert.AnError),
		"chr1": {Values: []any{
			domain.Output{Format: domain.FormatHAL, Artifact: "a", Checkpoint: &domain.CheckpointTarget{Key: "s3://b/chr1.hal"}},
			nil,
			domain.Output{Format: domain.FormatGFA, Artifact: "b"},
		}},
	}
	written := map[domain.PartitionKey][]string{"chr1": {"out/chr1.gfa.gz"}}

	reports := buildReports(results, written)
	require.Len(t, reports, 2)

	assert.Equal(t, "chr1", reports[0].Partition)
	assert.Equal(t, "succeeded", reports[0].Status)
	assert.Equal(t, []string{"out/chr1.gfa.gz"}, reports[0].Exported)
	assert.Equal(t, []string{"s3://b/chr1.hal"}, reports[0].Checkpoints)

	assert.Equal(t, "chr2", reports[1].Partition)
	assert.Equal(t, "failed", reports[1].Status)
	assert.Equal(t, assert.AnError.Error(), reports[1].Error)
}
