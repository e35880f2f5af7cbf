package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/engine"
)

// Destinations — куда экспортировать терминальные артефакты партиции.
type Destinations struct {
	HAL string `json:"hal"`
	VG  string `json:"vg"`
	GFA string `json:"gfa"`
}

// DestinationsFor выводит пути VG и GFA из пути HAL: расширение
// заменяется на .vg и .gfa.gz.
func DestinationsFor(outHAL string) Destinations {
	return Destinations{
		HAL: outHAL,
		VG:  checkpoint.DerivedKey(outHAL, domain.FormatVG.Extension()),
		GFA: checkpoint.DerivedKey(outHAL, domain.FormatGFA.Extension()),
	}
}

// For возвращает путь для формата.
func (d Destinations) For(f domain.OutputFormat) string {
	switch f {
	case domain.FormatVG:
		return d.VG
	case domain.FormatGFA:
		return d.GFA
	default:
		return d.HAL
	}
}

// Outputs приводит результат головной задачи партиции к [hal, vg, gfa].
// Отсутствующие форматы — nil.
func Outputs(values []any) ([]*domain.Output, error) {
	out := make([]*domain.Output, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		o, err := engine.As[domain.Output](v)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		out[i] = &o
	}
	return out, nil
}

// Exporter копирует терминальные артефакты вызывающему.
//
// Артефакты с чекпоинтом уже лежат в durable store и пропускаются.
type Exporter struct {
	store  ArtifactStore
	logger *slog.Logger
}

// NewExporter создаёт Exporter.
func NewExporter(store ArtifactStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger}
}

// Export пишет артефакты партиции в dest. Возвращает пути записанных файлов.
func (e *Exporter) Export(ctx context.Context, values []any, dest Destinations) ([]string, error) {
	outputs, err := Outputs(values)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, o := range outputs {
		if o == nil {
			continue
		}
		if o.Checkpointed() {
			e.logger.Debug("output already checkpointed", "format", o.Format, "key", o.Checkpoint.Key)
			continue
		}

		path := dest.For(o.Format)
		if checkpoint.IsRemote(path) {
			return written, fmt.Errorf("export %s to %s: output was not checkpointed", o.Format, path)
		}
		local, err := checkpoint.LocalPath(path)
		if err != nil {
			return written, err
		}
		if dir := filepath.Dir(local); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return written, fmt.Errorf("export %s: %w", o.Format, err)
			}
		}
		if err := e.store.Read(ctx, o.Artifact, local); err != nil {
			return written, fmt.Errorf("export %s: %w", o.Format, err)
		}
		e.logger.Info("output exported", "format", o.Format, "path", local)
		written = append(written, local)
	}
	return written, nil
}
