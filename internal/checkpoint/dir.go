package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore — durable store на локальной или сетевой файловой системе.
// Принимает file:// ключи и обычные пути.
type DirStore struct{}

// Put атомарно копирует файл в путь ключа, создавая каталоги.
func (DirStore) Put(ctx context.Context, localPath, key, _ string) error {
	dst, err := LocalPath(key)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Remove удаляет файл ключа. Отсутствующий файл не считается ошибкой.
func (DirStore) Remove(_ context.Context, key, _ string) error {
	p, err := LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// LocalPath возвращает путь файловой системы для file:// ключа или пути.
func LocalPath(key string) (string, error) {
	scheme, rest, err := splitKey(key)
	if err != nil {
		return "", err
	}
	switch scheme {
	case "":
		return rest, nil
	case "file":
		return filepath.FromSlash(rest), nil
	default:
		return "", fmt.Errorf("%w: %s is not a local path", ErrInvalidKey, key)
	}
}
