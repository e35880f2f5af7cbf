// Package config — неизменяемая конфигурация конвейера выравнивания.
//
// Конфигурация читается из HCL-файла (--configFile), незаданные поля
// берутся из Default(). Переопределения из командной строки применяются
// через With и возвращают новую копию: исходное значение не меняется,
// поэтому одна конфигурация безопасно разделяется партициями батча.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig — общий sentinel для ошибок конфигурации.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError — ошибка конфигурации с указанием поля.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// Errorf создаёт ConfigError.
func Errorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CafParams — параметры CAF (построение блоков выравнивания).
type CafParams struct {
	AlignmentFilter                  string
	MinimumBlockHomologySupport      float64
	MinimumBlockDegreeToCheckSupport int64
	RunMapQFiltering                 bool
	MaxRecoverableChainsIterations   int
}

// PoaParams — параметры POA внутри BAR.
type PoaParams struct {
	DisableSeeding bool
	MaskFilter     int
}

// BarParams — параметры BAR (доводка выравнивания).
type BarParams struct {
	MinimumBlockDegree    int
	PartialOrderAlignment bool
	Poa                   PoaParams
}

// Hal2VGParams — параметры экспорта HAL → VG.
type Hal2VGParams struct {
	Options            string
	IncludeMinigraph   bool
	IncludeAncestor    bool
	PrependGenomeNames bool
}

// GraphmapParams — параметры minigraph.
type GraphmapParams struct {
	AssemblyName           string
	RemoveMinigraphFromPAF bool
}

// Tools — имена или пути внешних инструментов.
type Tools struct {
	Consolidated string
	HalAppend    string
	Hal2VG       string
	VG           string
	Gzip         string
}

// Pipeline — неизменяемая конфигурация конвейера.
//
// Все поля — значения без ссылок, поэтому копия Pipeline полностью
// независима от оригинала.
type Pipeline struct {
	internalNodePrefix string
	maxOutgroups       int
	caf                CafParams
	bar                BarParams
	hal2vg             Hal2VGParams
	graphmap           GraphmapParams
	tools              Tools
	source             string
}

// Default возвращает конфигурацию по умолчанию.
func Default() Pipeline {
	return Pipeline{
		internalNodePrefix: "Anc",
		maxOutgroups:       1,
		caf: CafParams{
			MinimumBlockHomologySupport:      0.05,
			MinimumBlockDegreeToCheckSupport: 10,
			RunMapQFiltering:                 true,
			MaxRecoverableChainsIterations:   10,
		},
		bar: BarParams{
			MinimumBlockDegree: 2,
			Poa:                PoaParams{MaskFilter: -1},
		},
		hal2vg: Hal2VGParams{
			Options:            "--noAncestors",
			PrependGenomeNames: true,
		},
		graphmap: GraphmapParams{AssemblyName: "_MINIGRAPH_"},
		tools: Tools{
			Consolidated: "cactus_consolidated",
			HalAppend:    "halAppendCactusSubtree",
			Hal2VG:       "hal2vg",
			VG:           "vg",
			Gzip:         "gzip",
		},
		source: "default",
	}
}

// InternalNodePrefix — префикс имён безымянных внутренних узлов дерева.
func (p Pipeline) InternalNodePrefix() string { return p.internalNodePrefix }

// MaxOutgroups — сколько аутгрупп выбирать для корня выравнивания.
func (p Pipeline) MaxOutgroups() int { return p.maxOutgroups }

func (p Pipeline) Caf() CafParams           { return p.caf }
func (p Pipeline) Bar() BarParams           { return p.bar }
func (p Pipeline) Hal2VG() Hal2VGParams     { return p.hal2vg }
func (p Pipeline) Graphmap() GraphmapParams { return p.graphmap }
func (p Pipeline) Tools() Tools             { return p.tools }

// Source — откуда загружена конфигурация (путь файла или "default").
func (p Pipeline) Source() string { return p.source }

// Validate проверяет согласованность значений.
func (p Pipeline) Validate() error {
	switch {
	case p.internalNodePrefix == "":
		return Errorf("internal_node_prefix", "must not be empty")
	case p.maxOutgroups < 0:
		return Errorf("max_outgroups", "must be non-negative, got %d", p.maxOutgroups)
	case p.caf.MinimumBlockHomologySupport < 0:
		return Errorf("caf.minimum_block_homology_support", "must be non-negative")
	case p.caf.MaxRecoverableChainsIterations < 0:
		return Errorf("caf.max_recoverable_chains_iterations", "must be non-negative")
	case p.bar.MinimumBlockDegree < 0:
		return Errorf("bar.minimum_block_degree", "must be non-negative")
	case p.graphmap.AssemblyName == "":
		return Errorf("graphmap.assembly_name", "must not be empty")
	}

	tools := map[string]string{
		"tools.consolidated": p.tools.Consolidated,
		"tools.hal_append":   p.tools.HalAppend,
		"tools.hal2vg":       p.tools.Hal2VG,
		"tools.vg":           p.tools.VG,
		"tools.gzip":         p.tools.Gzip,
	}
	for field, v := range tools {
		if v == "" {
			return Errorf(field, "must not be empty")
		}
	}
	return nil
}
