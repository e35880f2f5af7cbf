package estimator

import (
	"context"
	"fmt"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// SizeReader — источник дешёвых метаданных артефакта.
type SizeReader interface {
	Size(ctx context.Context, id domain.ArtifactID) (int64, error)
}

// Scale — коэффициенты footprint относительно суммарного размера входов.
type Scale struct {
	Cores      int
	MemoryMult int64
	DiskMult   int64
	MinMemory  int64
	MinDisk    int64
}

// SizeScaled возвращает EstimateFunc, который суммирует размеры артефактов
// во входах с индексами slots и масштабирует их по scale.
func SizeScaled(sizes SizeReader, scale Scale, slots ...int) EstimateFunc {
	return func(tc engine.TaskContext, inputs []any) (domain.Footprint, error) {
		var total int64
		for _, slot := range slots {
			ids, err := artifactsIn(inputs, slot)
			if err != nil {
				return domain.Footprint{}, err
			}
			for _, id := range ids {
				size, err := sizes.Size(tc.Context(), id)
				if err != nil {
					return domain.Footprint{}, fmt.Errorf("size of %s: %w", id, err)
				}
				total += size
			}
		}

		return domain.Footprint{
			Cores:  scale.Cores,
			Memory: max(total*scale.MemoryMult, scale.MinMemory),
			Disk:   max(total*scale.DiskMult, scale.MinDisk),
		}, nil
	}
}

// artifactsIn извлекает идентификаторы артефактов из входа: одиночный
// ArtifactID, список или map имя → ArtifactID.
func artifactsIn(inputs []any, slot int) ([]domain.ArtifactID, error) {
	if slot < 0 || slot >= len(inputs) {
		return nil, fmt.Errorf("input %d out of range", slot)
	}

	switch v := inputs[slot].(type) {
	case nil:
		return nil, nil
	case domain.ArtifactID:
		return []domain.ArtifactID{v}, nil
	case domain.Output:
		return []domain.ArtifactID{v.Artifact}, nil
	case string:
		return []domain.ArtifactID{domain.ArtifactID(v)}, nil
	case []any, []domain.ArtifactID:
		return engine.As[[]domain.ArtifactID](v)
	case map[string]any:
		if _, ok := v["artifact"]; ok {
			out, err := engine.As[domain.Output](v)
			if err != nil {
				return nil, err
			}
			return []domain.ArtifactID{out.Artifact}, nil
		}
		return mapValues(v)
	case map[string]domain.ArtifactID:
		return mapValues(v)
	default:
		return nil, fmt.Errorf("input %d: unsupported artifact value %T", slot, v)
	}
}

func mapValues(v any) ([]domain.ArtifactID, error) {
	m, err := engine.As[map[string]domain.ArtifactID](v)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ArtifactID, 0, len(m))
	for _, id := range m {
		out = append(out, id)
	}
	return out, nil
}
