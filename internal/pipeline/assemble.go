package pipeline

import (
	"fmt"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// Имена функций задач конвейера.
const (
	FuncAlign       engine.FuncName = "align"
	FuncPrep        engine.FuncName = "align.prep"
	FuncUnzip       engine.FuncName = "align.unzip"
	FuncConsolidate engine.FuncName = "align.consolidate"
	FuncHALExport   engine.FuncName = "align.hal_export"
	FuncVGExport    engine.FuncName = "align.vg_export"
	FuncGFAExport   engine.FuncName = "align.gfa_export"
	FuncOutputs     engine.FuncName = "align.outputs"
)

// Assembler строит под-конвейер партиции.
type Assembler struct{}

// Assemble создаёт головную задачу партиции.
//
// Головная задача при запуске строит стадии через Scope (см. BuildStages) и
// перенаправляет свой результат на задачу outputs: [hal, vg, gfa].
func (Assembler) Assemble(g *engine.Graph, plan *PartitionPlan) (*engine.Task, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	name := string(FuncAlign)
	if plan.Partition != domain.WholeInput {
		name = string(plan.Partition)
	}
	head := g.NewTask(engine.Spec{
		Name:      name,
		Func:      FuncAlign,
		Inputs:    []any{*plan},
		Partition: plan.Partition,
		Head:      true,
	})
	return head, nil
}

// BuildStages добавляет стадии партиции в scope головной задачи head:
//
//	head
//	├── prep
//	│   └── unzip_<genome> ...
//	│   → consolidate → hal_export → vg_export → gfa_export
//	→ outputs
//
// Возвращает задачу outputs; на неё перенаправлен результат head.
func BuildStages(scope *engine.Scope, head *engine.Task, plan *PartitionPlan) (*engine.Task, error) {
	prep := scope.NewTask(engine.Spec{Name: "prep", Func: FuncPrep})
	if _, err := scope.AddChild(head, prep); err != nil {
		return nil, err
	}

	// Распаковка: по задаче на геном, все — дети prep
	seqs := make(map[string]any, len(plan.Events))
	for _, event := range plan.Events {
		unzip := scope.NewTask(engine.Spec{
			Name:      "unzip_" + event,
			Func:      FuncUnzip,
			Inputs:    []any{plan.SeqPaths[event], plan.Sequences[event]},
			Resources: domain.Resolved(domain.Footprint{Cores: 1}),
		})
		if _, err := scope.AddChild(prep, unzip); err != nil {
			return nil, err
		}
		seqs[event] = unzip.Result(0)
	}

	cons := scope.NewTask(engine.Spec{
		Name:      "consolidate",
		Func:      FuncConsolidate,
		Inputs:    []any{*plan, seqs, plan.PAF},
		Resources: consolidateResources(plan),
	})
	if _, err := scope.AddFollowOn(prep, cons); err != nil {
		return nil, err
	}

	hal := scope.NewTask(engine.Spec{
		Name:      "hal_export",
		Func:      FuncHALExport,
		Inputs:    []any{*plan, cons.Result(0), cons.Result(1)},
		Resources: domain.Resolved(domain.Footprint{Cores: 1}),
	})
	if _, err := scope.AddFollowOn(cons, hal); err != nil {
		return nil, err
	}

	var vgOut, gfaOut any
	if plan.OutVG || plan.OutGFA {
		vg := scope.NewTask(engine.Spec{
			Name:      "vg_export",
			Func:      FuncVGExport,
			Inputs:    []any{*plan, hal.Result(0)},
			Resources: domain.Unresolved(),
		})
		if _, err := scope.AddFollowOn(hal, vg); err != nil {
			return nil, err
		}
		if plan.OutVG {
			vgOut = vg.Result(0)
		}

		// Отдельная задача: сбой конвертации не повторяет чекпоинт VG
		if plan.OutGFA {
			gfa := scope.NewTask(engine.Spec{
				Name:      "gfa_export",
				Func:      FuncGFAExport,
				Inputs:    []any{*plan, vg.Result(0)},
				Resources: domain.Unresolved(),
			})
			if _, err := scope.AddFollowOn(vg, gfa); err != nil {
				return nil, err
			}
			gfaOut = gfa.Result(0)
		}
	}

	outputs := scope.NewTask(engine.Spec{
		Name:   "outputs",
		Func:   FuncOutputs,
		Inputs: []any{hal.Result(0), vgOut, gfaOut},
	})
	if _, err := scope.AddFollowOn(head, outputs); err != nil {
		return nil, err
	}
	if err := scope.Forward(outputs); err != nil {
		return nil, fmt.Errorf("forward %s: %w", head.ID(), err)
	}
	return outputs, nil
}

// consolidateResources — явные ресурсы, если задана память, иначе оценка при запуске.
func consolidateResources(plan *PartitionPlan) domain.Resources {
	if plan.ConsMemory > 0 {
		return domain.Resolved(domain.Footprint{Cores: plan.ConsCores, Memory: plan.ConsMemory})
	}
	return domain.Unresolved()
}
