package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/alignflow/internal/domain"
)

// importConcurrency — сколько файлов импортируется параллельно.
const importConcurrency = 4

// ErrNotImported — план не прошёл Import.
var ErrNotImported = errors.New("inputs not imported")

// ArtifactStore — хранилище артефактов, общее для всех задач.
type ArtifactStore interface {
	Write(ctx context.Context, path string) (domain.ArtifactID, error)
	Read(ctx context.Context, id domain.ArtifactID, path string) error
	Open(ctx context.Context, id domain.ArtifactID) (io.ReadCloser, error)
	Size(ctx context.Context, id domain.ArtifactID) (int64, error)
}

// Import копирует последовательности и PAF партиции в хранилище артефактов
// и заполняет plan.Sequences и plan.PAF. Каталоги последовательностей
// склеиваются в один FASTA.
func Import(ctx context.Context, store ArtifactStore, plan *PartitionPlan) error {
	var mu sync.Mutex
	sequences := make(map[string]domain.ArtifactID, len(plan.Events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)

	for _, event := range plan.Events {
		src := plan.SeqPaths[event]
		g.Go(func() error {
			id, err := importPath(gctx, store, src)
			if err != nil {
				return fmt.Errorf("import %s (%s): %w", event, src, err)
			}
			mu.Lock()
			sequences[event] = id
			mu.Unlock()
			return nil
		})
	}

	var paf domain.ArtifactID
	g.Go(func() error {
		id, err := importPath(gctx, store, plan.PAFPath)
		if err != nil {
			return fmt.Errorf("import paf %s: %w", plan.PAFPath, err)
		}
		paf = id
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	plan.Sequences = sequences
	plan.PAF = paf
	return nil
}

func importPath(ctx context.Context, store ArtifactStore, src string) (domain.ArtifactID, error) {
	local, err := localInput(src)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(local)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return store.Write(ctx, local)
	}

	merged, err := concatDir(local)
	if err != nil {
		return "", err
	}
	defer os.Remove(merged)
	return store.Write(ctx, merged)
}

func localInput(src string) (string, error) {
	if rest, ok := strings.CutPrefix(src, "file://"); ok {
		return rest, nil
	}
	if strings.Contains(src, "://") {
		return "", fmt.Errorf("unsupported input url %s", src)
	}
	return src, nil
}

// concatDir склеивает файлы каталога (по имени) во временный файл.
func concatDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out, err := os.CreateTemp("", "alignflow-seq-*.fa")
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if err := appendFile(out, filepath.Join(dir, name)); err != nil {
			out.Close()
			os.Remove(out.Name())
			return "", err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
