package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// fileConfig — структура HCL-файла конфигурации. Все поля необязательны:
// отсутствующие берутся из Default().
//
//	internal_node_prefix = "Anc"
//
//	caf {
//	  minimum_block_homology_support = 0.05
//	}
//
//	tools {
//	  hal2vg = "${env.CACTUS_BIN}/hal2vg"
//	}
type fileConfig struct {
	InternalNodePrefix *string        `hcl:"internal_node_prefix,optional"`
	MaxOutgroups       *int           `hcl:"max_outgroups,optional"`
	Caf                *cafBlock      `hcl:"caf,block"`
	Bar                *barBlock      `hcl:"bar,block"`
	Hal2VG             *hal2vgBlock   `hcl:"hal2vg,block"`
	Graphmap           *graphmapBlock `hcl:"graphmap,block"`
	Tools              *toolsBlock    `hcl:"tools,block"`
}

type cafBlock struct {
	AlignmentFilter                  *string  `hcl:"alignment_filter,optional"`
	MinimumBlockHomologySupport      *float64 `hcl:"minimum_block_homology_support,optional"`
	MinimumBlockDegreeToCheckSupport *int64   `hcl:"minimum_block_degree_to_check_support,optional"`
	RunMapQFiltering                 *bool    `hcl:"run_mapq_filtering,optional"`
	MaxRecoverableChainsIterations   *int     `hcl:"max_recoverable_chains_iterations,optional"`
}

type barBlock struct {
	MinimumBlockDegree    *int      `hcl:"minimum_block_degree,optional"`
	PartialOrderAlignment *bool     `hcl:"partial_order_alignment,optional"`
	Poa                   *poaBlock `hcl:"poa,block"`
}

type poaBlock struct {
	DisableSeeding *bool `hcl:"disable_seeding,optional"`
	MaskFilter     *int  `hcl:"mask_filter,optional"`
}

type hal2vgBlock struct {
	Options            *string `hcl:"options,optional"`
	IncludeMinigraph   *bool   `hcl:"include_minigraph,optional"`
	IncludeAncestor    *bool   `hcl:"include_ancestor,optional"`
	PrependGenomeNames *bool   `hcl:"prepend_genome_names,optional"`
}

type graphmapBlock struct {
	AssemblyName           *string `hcl:"assembly_name,optional"`
	RemoveMinigraphFromPAF *bool   `hcl:"remove_minigraph_from_paf,optional"`
}

type toolsBlock struct {
	Consolidated *string `hcl:"consolidated,optional"`
	HalAppend    *string `hcl:"hal_append,optional"`
	Hal2VG       *string `hcl:"hal2vg,optional"`
	VG           *string `hcl:"vg,optional"`
	Gzip         *string `hcl:"gzip,optional"`
}

// LoadFile читает конфигурацию из HCL-файла. Пустой путь — Default().
func LoadFile(path string) (Pipeline, error) {
	if path == "" {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Pipeline{}, &ConfigError{Field: path, Message: "failed to parse", Err: fmt.Errorf("%w: %w", ErrInvalidConfig, diags)}
	}
	return decode(file, path)
}

// Parse читает конфигурацию из HCL-текста. filename используется в диагностике.
func Parse(src []byte, filename string) (Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Pipeline{}, &ConfigError{Field: filename, Message: "failed to parse", Err: fmt.Errorf("%w: %w", ErrInvalidConfig, diags)}
	}
	return decode(file, filename)
}

func decode(file *hcl.File, source string) (Pipeline, error) {
	var parsed fileConfig
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &parsed); diags.HasErrors() {
		return Pipeline{}, &ConfigError{Field: source, Message: "failed to decode", Err: fmt.Errorf("%w: %w", ErrInvalidConfig, diags)}
	}

	p := Default()
	p.source = source
	parsed.apply(&p)

	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// evalContext открывает переменные окружения как env.NAME.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !hclIdent(name) {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func hclIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func (f *fileConfig) apply(p *Pipeline) {
	set(&p.internalNodePrefix, f.InternalNodePrefix)
	set(&p.maxOutgroups, f.MaxOutgroups)

	if c := f.Caf; c != nil {
		set(&p.caf.AlignmentFilter, c.AlignmentFilter)
		set(&p.caf.MinimumBlockHomologySupport, c.MinimumBlockHomologySupport)
		set(&p.caf.MinimumBlockDegreeToCheckSupport, c.MinimumBlockDegreeToCheckSupport)
		set(&p.caf.RunMapQFiltering, c.RunMapQFiltering)
		set(&p.caf.MaxRecoverableChainsIterations, c.MaxRecoverableChainsIterations)
	}
	if b := f.Bar; b != nil {
		set(&p.bar.MinimumBlockDegree, b.MinimumBlockDegree)
		set(&p.bar.PartialOrderAlignment, b.PartialOrderAlignment)
		if poa := b.Poa; poa != nil {
			set(&p.bar.Poa.DisableSeeding, poa.DisableSeeding)
			set(&p.bar.Poa.MaskFilter, poa.MaskFilter)
		}
	}
	if h := f.Hal2VG; h != nil {
		set(&p.hal2vg.Options, h.Options)
		set(&p.hal2vg.IncludeMinigraph, h.IncludeMinigraph)
		set(&p.hal2vg.IncludeAncestor, h.IncludeAncestor)
		set(&p.hal2vg.PrependGenomeNames, h.PrependGenomeNames)
	}
	if g := f.Graphmap; g != nil {
		set(&p.graphmap.AssemblyName, g.AssemblyName)
		set(&p.graphmap.RemoveMinigraphFromPAF, g.RemoveMinigraphFromPAF)
	}
	if t := f.Tools; t != nil {
		set(&p.tools.Consolidated, t.Consolidated)
		set(&p.tools.HalAppend, t.HalAppend)
		set(&p.tools.Hal2VG, t.Hal2VG)
		set(&p.tools.VG, t.VG)
		set(&p.tools.Gzip, t.Gzip)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
