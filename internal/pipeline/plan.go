package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
)

// Options — параметры выравнивания одной партиции из командной строки.
type Options struct {
	// Partition — ключ партиции (WholeInput в single-режиме).
	Partition domain.PartitionKey

	// PAF — путь к файлу попарных выравниваний.
	PAF string

	// OutHAL — путь или URL результата. s3:// включает чекпоинт.
	OutHAL string

	// OutVG, OutGFA — дополнительно экспортировать VG и GFA.
	OutVG  bool
	OutGFA bool

	// Root — корень выравнивания; пустой — корень дерева.
	Root string

	// Reference — геном, который HAL export делает ацикличным.
	Reference string

	// PathOverrides и PathOverrideNames заменяют пути из seqfile (попарно).
	PathOverrides     []string
	PathOverrideNames []string

	// ConsCores и ConsMemory — ресурсы consolidate; ConsMemory == 0 включает оценку.
	ConsCores  int
	ConsMemory int64

	// MaxCores — ёмкость substrate по ядрам (0 — не проверяется).
	MaxCores int

	// MaxMemory — ёмкость substrate по памяти в байтах (0 — не проверяется).
	MaxMemory int64

	// CheckpointRegion — регион для s3:// назначений.
	CheckpointRegion string
}

// PartitionPlan — всё, что нужно для построения под-конвейера партиции.
//
// План сериализуется во входы головной задачи, поэтому --restart не
// перечитывает seqfile и конфигурацию.
type PartitionPlan struct {
	Partition domain.PartitionKey `json:"partition"`

	// Root — корень выравнивания.
	Root string `json:"root"`

	// Reference — ацикличный геном для HAL export (может быть пустым).
	Reference string `json:"reference,omitempty"`

	// Events — участвующие геномы в алфавитном порядке.
	Events []string `json:"events"`

	// Outgroups — аутгруппы корня.
	Outgroups []string `json:"outgroups,omitempty"`

	// SeqPaths — исходные пути последовательностей по геному.
	SeqPaths map[string]string `json:"seq_paths"`

	// Sequences — импортированные последовательности (заполняет Import).
	Sequences map[string]domain.ArtifactID `json:"sequences,omitempty"`

	// PAFPath и PAF — исходный путь и импортированный артефакт выравниваний.
	PAFPath string            `json:"paf_path"`
	PAF     domain.ArtifactID `json:"paf,omitempty"`

	// SpanningTree — Newick минимального поддерева с корнем и аутгруппами (для consolidate).
	SpanningTree string `json:"spanning_tree"`

	// SubTree — Newick поддерева корня без аутгрупп (для HAL export).
	SubTree string `json:"sub_tree"`

	// Params — XML-параметры для внешних инструментов.
	Params string `json:"params"`

	// Tools — имена инструментов.
	Tools config.Tools `json:"tools"`

	// Hal2VGArgs — опции hal2vg после пути к HAL.
	Hal2VGArgs []string `json:"hal2vg_args,omitempty"`

	OutVG  bool `json:"out_vg,omitempty"`
	OutGFA bool `json:"out_gfa,omitempty"`

	ConsCores  int   `json:"cons_cores"`
	ConsMemory int64 `json:"cons_memory,omitempty"`

	// Checkpoint — цель для HAL; VG и GFA получают производные ключи.
	Checkpoint *domain.CheckpointTarget `json:"checkpoint,omitempty"`

	// Destinations — пути экспорта вызывающему.
	Destinations Destinations `json:"destinations"`
}

// Plan вычисляет план партиции по seqfile и конфигурации.
//
// Все ошибки — ошибки конфигурации (config.ConfigError): вызывающий
// получает их до того, как в substrate отправлена хоть одна задача.
func Plan(sf *SeqFile, cfg config.Pipeline, opts Options) (*PartitionPlan, error) {
	if opts.MaxCores < 0 {
		return nil, config.Errorf("maxCores", "must be at least 1, got %d", opts.MaxCores)
	}
	consCores := opts.ConsCores
	if consCores <= 0 {
		consCores = max(opts.MaxCores, 1)
	}
	if opts.MaxCores > 0 && consCores > opts.MaxCores {
		return nil, config.Errorf("consCores", "%d exceeds maxCores %d", consCores, opts.MaxCores)
	}
	if opts.ConsMemory < 0 {
		return nil, config.Errorf("consMemory", "must be non-negative")
	}
	if opts.MaxMemory < 0 {
		return nil, config.Errorf("maxMemory", "must be non-negative")
	}
	if opts.MaxMemory > 0 && opts.ConsMemory > opts.MaxMemory {
		return nil, config.Errorf("consMemory", "%d bytes exceeds maxMemory %d", opts.ConsMemory, opts.MaxMemory)
	}
	if len(opts.PathOverrides) != len(opts.PathOverrideNames) {
		return nil, config.Errorf("pathOverrides", "%d paths for %d names", len(opts.PathOverrides), len(opts.PathOverrideNames))
	}
	if opts.PAF == "" {
		return nil, config.Errorf("pafFile", "is required")
	}
	if opts.OutHAL == "" {
		return nil, config.Errorf("outHal", "is required")
	}

	tree := sf.Tree.Clone()
	paths := make(map[string]string, len(sf.Paths))
	for name, p := range sf.Paths {
		paths[name] = p
	}
	for i, name := range opts.PathOverrideNames {
		paths[name] = opts.PathOverrides[i]
	}

	root := opts.Root
	if root == "" {
		root = tree.Root.Name
	}
	rootNode := tree.Find(root)
	if rootNode == nil {
		return nil, config.Errorf("root", "%s not found in tree", root)
	}

	if opts.Reference != "" {
		ref := tree.Find(opts.Reference)
		if ref == nil || !ref.IsLeaf() {
			return nil, config.Errorf("reference", "genome %s not found in tree leaves", opts.Reference)
		}
	}

	outgroups := chooseOutgroups(tree, rootNode, sf.Outgroups, cfg.MaxOutgroups())

	events := make(map[string]bool)
	for _, name := range Leaves(rootNode) {
		events[name] = true
	}
	for _, og := range outgroups {
		events[og.Name] = true
	}

	// minigraph-геном в PAF не участвует в выравнивании
	gm := cfg.Graphmap()
	if gm.RemoveMinigraphFromPAF && events[gm.AssemblyName] {
		delete(events, gm.AssemblyName)
		tree.RemoveLeaf(gm.AssemblyName)
		outgroups = removeNamed(outgroups, gm.AssemblyName)
		if rootNode = tree.Find(root); rootNode == nil {
			return nil, config.Errorf("root", "%s disappeared after removing %s", root, gm.AssemblyName)
		}
	}

	seqPaths := make(map[string]string, len(events))
	for name := range events {
		p, ok := paths[name]
		if !ok || p == "" {
			return nil, config.Errorf("seqFile", "no sequence path for genome %s", name)
		}
		seqPaths[name] = p
	}

	params, err := cfg.ParamsXML()
	if err != nil {
		return nil, err
	}

	plan := &PartitionPlan{
		Partition:    opts.Partition,
		Root:         root,
		Reference:    opts.Reference,
		Events:       sortedKeys(events),
		Outgroups:    nodeNames(outgroups),
		SeqPaths:     seqPaths,
		PAFPath:      opts.PAF,
		SpanningTree: SpanningNewick(rootNode, outgroups),
		SubTree:      Newick(rootNode),
		Params:       string(params),
		Tools:        cfg.Tools(),
		Hal2VGArgs:   Hal2VGArgs(cfg),
		OutVG:        opts.OutVG,
		OutGFA:       opts.OutGFA,
		ConsCores:    consCores,
		ConsMemory:   opts.ConsMemory,
		Destinations: DestinationsFor(opts.OutHAL),
	}
	if checkpoint.IsRemote(opts.OutHAL) {
		plan.Checkpoint = &domain.CheckpointTarget{Region: opts.CheckpointRegion, Key: opts.OutHAL}
	}
	return plan, nil
}

// chooseOutgroups выбирает до limit ближайших к корню листьев вне его
// поддерева. Помеченные '*' кандидаты имеют приоритет.
func chooseOutgroups(tree *Tree, root *Node, preferred []string, limit int) []*Node {
	if limit <= 0 || root.Parent == nil {
		return nil
	}

	var candidates []*Node
	for _, name := range preferred {
		if n := tree.Find(name); n != nil && !IsAncestor(root, n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		for _, name := range Leaves(tree.Root) {
			n := tree.Find(name)
			if !IsAncestor(root, n) {
				candidates = append(candidates, n)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := Distance(root, candidates[i]), Distance(root, candidates[j])
		if di != dj {
			return di < dj
		}
		return candidates[i].Name < candidates[j].Name
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// Hal2VGArgs строит опции hal2vg: опции из конфигурации, --ignoreGenomes
// для minigraph и корневого предка, --onlySequenceNames.
func Hal2VGArgs(cfg config.Pipeline) []string {
	h := cfg.Hal2VG()
	args := strings.Fields(h.Options)

	var ignore []string
	if !h.IncludeMinigraph {
		ignore = append(ignore, cfg.Graphmap().AssemblyName)
	}
	if !h.IncludeAncestor {
		ignore = append(ignore, cfg.InternalNodePrefix()+"0")
	}
	if len(ignore) > 0 {
		args = append(args, "--ignoreGenomes", strings.Join(ignore, ","))
	}
	if !h.PrependGenomeNames {
		args = append(args, "--onlySequenceNames")
	}
	return args
}

func nodeNames(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func removeNamed(nodes []*Node, name string) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.Name != name {
			out = append(out, n)
		}
	}
	return out
}

// Validate проверяет, что план готов к сборке.
func (p *PartitionPlan) Validate() error {
	if len(p.Events) == 0 {
		return fmt.Errorf("partition %s: %w", p.Partition, config.Errorf("seqFile", "no genomes to align"))
	}
	if p.PAF == "" {
		return fmt.Errorf("partition %s: %w", p.Partition, ErrNotImported)
	}
	for _, ev := range p.Events {
		if p.Sequences[ev] == "" {
			return fmt.Errorf("partition %s: genome %s: %w", p.Partition, ev, ErrNotImported)
		}
	}
	return nil
}
