package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/alignflow/internal/domain"
)

const (
	invocationFile = "invocation.json"
	tasksDir       = "tasks"
)

// Dir — job store в каталоге файловой системы.
//
// Структура:
//
//	<root>/invocation.json
//	<root>/tasks/<task id>.json
//
// Каждый файл записывается во временный и переименовывается, поэтому
// прерванная запись не портит предыдущее состояние.
type Dir struct {
	root string
}

// NewDir создаёт Dir, при необходимости создавая каталог.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(root, tasksDir), 0o755); err != nil {
		return nil, fmt.Errorf("create job store %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root возвращает каталог job store.
func (d *Dir) Root() string { return d.root }

// SaveInvocation создаёт или обновляет вызов.
func (d *Dir) SaveInvocation(_ context.Context, inv *domain.Invocation) error {
	return writeJSON(filepath.Join(d.root, invocationFile), inv)
}

// LoadInvocation возвращает вызов или domain.ErrNotFound.
func (d *Dir) LoadInvocation(_ context.Context) (*domain.Invocation, error) {
	var inv domain.Invocation
	if err := readJSON(filepath.Join(d.root, invocationFile), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SaveTask создаёт или обновляет запись о задаче.
func (d *Dir) SaveTask(_ context.Context, rec *domain.TaskRecord) error {
	return writeJSON(d.taskPath(rec.ID), rec)
}

// ListTasks возвращает записи вызова в порядке Seq.
func (d *Dir) ListTasks(_ context.Context, invocationID uuid.UUID) ([]domain.TaskRecord, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, tasksDir))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]domain.TaskRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec domain.TaskRecord
		if err := readJSON(filepath.Join(d.root, tasksDir, e.Name()), &rec); err != nil {
			return nil, err
		}
		if rec.InvocationID == invocationID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// DeleteTasks удаляет записи.
func (d *Dir) DeleteTasks(_ context.Context, _ uuid.UUID, ids []string) error {
	for _, id := range ids {
		if err := os.Remove(d.taskPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	return nil
}

func (d *Dir) taskPath(id string) string {
	return filepath.Join(d.root, tasksDir, url.PathEscape(id)+".json")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
