package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/alignflow/internal/batch"
	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/pipeline"
)

// Options — флаги, общие для align и batch.
type Options struct {
	JobStore   string
	Restart    bool
	ConfigFile string
	WorkDir    string

	Root      string
	Reference string
	OutVG     bool
	OutGFA    bool

	PathOverrides     []string
	PathOverrideNames []string

	ConsCores    int
	ConsMemory   string
	MaxCores     int
	MaxMemory    string
	RetryCount   int
	RetryBackoff string

	CheckpointRegion string

	Pangenome         bool
	SingleCopySpecies string
	BarMaskFilter     int
}

// addSharedFlags регистрирует общие флаги на команде.
func addSharedFlags(cmd *cobra.Command, o *Options) {
	f := cmd.Flags()
	f.StringVar(&o.JobStore, "jobStore", "mem", "Job store: mem, a directory path or pg:NAME")
	f.BoolVar(&o.Restart, "restart", false, "Continue the interrupted invocation from the job store")
	f.StringVar(&o.ConfigFile, "configFile", "", "Pipeline configuration file (HCL)")
	f.StringVar(&o.WorkDir, "workDir", "", "Directory for task working directories")

	f.StringVar(&o.Root, "root", "", "Name of the tree node to align (default: tree root)")
	f.StringVar(&o.Reference, "reference", "", "Reference genome for acyclic HAL export")
	f.BoolVar(&o.OutVG, "outVG", false, "Also export a VG graph")
	f.BoolVar(&o.OutGFA, "outGFA", false, "Also export a gzipped GFA graph")

	f.StringSliceVar(&o.PathOverrides, "pathOverrides", nil, "Override sequence paths (pairs with --pathOverrideNames)")
	f.StringSliceVar(&o.PathOverrideNames, "pathOverrideNames", nil, "Genome names for --pathOverrides")

	f.IntVar(&o.ConsCores, "consCores", 0, "Cores for cactus_consolidated (default: maxCores)")
	f.StringVar(&o.ConsMemory, "consMemory", "", "Memory for cactus_consolidated, e.g. 64G (default: estimated)")
	f.IntVar(&o.MaxCores, "maxCores", 0, "Core capacity of the local substrate (default: number of CPUs)")
	f.StringVar(&o.MaxMemory, "maxMemory", "", "Memory capacity of the local substrate, e.g. 256G (default: unlimited)")
	f.IntVar(&o.RetryCount, "retryCount", 2, "Retries of a failed task (0 disables retries)")
	f.StringVar(&o.RetryBackoff, "retryBackoff", "1s", "Initial delay between task retries")

	f.StringVar(&o.CheckpointRegion, "checkpointRegion", "", "Region of the durable store bucket")

	f.BoolVar(&o.Pangenome, "pangenome", false, "Use pangenome alignment parameters")
	f.StringVar(&o.SingleCopySpecies, "singleCopySpecies", "", "Genome to filter to single-copy alignments")
	f.IntVar(&o.BarMaskFilter, "barMaskFilter", -1, "BAR POA mask filter length (-1 keeps the config value)")
}

// pipelineConfig загружает конфигурацию конвейера и применяет флаги.
func (o *Options) pipelineConfig() (config.Pipeline, error) {
	cfg, err := config.LoadFile(o.ConfigFile)
	if err != nil {
		return config.Pipeline{}, err
	}

	var overrides []config.Override
	if o.Pangenome {
		overrides = append(overrides, config.Pangenome())
	}
	if o.SingleCopySpecies != "" {
		overrides = append(overrides, config.SingleCopySpecies(o.SingleCopySpecies))
	}
	if o.BarMaskFilter >= 0 {
		overrides = append(overrides, config.BarMaskFilter(o.BarMaskFilter))
	}
	return cfg.With(overrides...)
}

// planOptions переводит флаги в параметры партиции.
func (o *Options) planOptions() (pipeline.Options, error) {
	opts := pipeline.Options{
		OutVG:             o.OutVG,
		OutGFA:            o.OutGFA,
		Root:              o.Root,
		Reference:         o.Reference,
		PathOverrides:     o.PathOverrides,
		PathOverrideNames: o.PathOverrideNames,
		ConsCores:         o.ConsCores,
		MaxCores:          o.MaxCores,
		CheckpointRegion:  o.CheckpointRegion,
	}
	if o.MaxCores < 0 {
		return opts, config.Errorf("maxCores", "must be at least 1, got %d", o.MaxCores)
	}
	if o.ConsMemory != "" {
		n, err := batch.ParseSize(o.ConsMemory)
		if err != nil {
			return opts, config.Errorf("consMemory", "%v", err)
		}
		opts.ConsMemory = n
	}
	maxMemory, err := o.maxMemory()
	if err != nil {
		return opts, err
	}
	opts.MaxMemory = maxMemory
	return opts, nil
}

// retryCount переводит --retryCount в значение localexec: 0 — без повторов.
func (o *Options) retryCount() int {
	if o.RetryCount <= 0 {
		return -1
	}
	return o.RetryCount
}

func (o *Options) maxMemory() (int64, error) {
	if o.MaxMemory == "" {
		return 0, nil
	}
	n, err := batch.ParseSize(o.MaxMemory)
	if err != nil {
		return 0, config.Errorf("maxMemory", "%v", err)
	}
	return n, nil
}

// jobStoreKind разбирает --jobStore.
func jobStoreKind(spec string) (kind, value string, err error) {
	switch {
	case spec == "" || spec == "mem":
		return "mem", "", nil
	case strings.HasPrefix(spec, "pg:"):
		name := strings.TrimPrefix(spec, "pg:")
		if name == "" {
			return "", "", config.Errorf("jobStore", "empty store name in %q", spec)
		}
		return "pg", name, nil
	case strings.Contains(spec, "://"):
		return "", "", config.Errorf("jobStore", "unsupported job store %q", spec)
	default:
		return "dir", spec, nil
	}
}

func (o *Options) validateRestart() error {
	if o.Restart {
		if kind, _, _ := jobStoreKind(o.JobStore); kind == "mem" {
			return fmt.Errorf("--restart requires a persistent --jobStore")
		}
	}
	return nil
}
