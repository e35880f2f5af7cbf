// Package artifact — локальное content-addressed хранилище артефактов.
//
// Артефакты задач (распакованные последовательности, PAF, HAL, VG) живут в
// FileStore и передаются между задачами по ArtifactID. ID — xxhash
// содержимого, поэтому повторная запись того же файла после --restart не
// создаёт копию.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shaiso/alignflow/internal/domain"
)

// sizeCacheEntries — сколько размеров держать в памяти.
const sizeCacheEntries = 4096

var (
	// ErrNotFound — артефакта нет в хранилище.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidID — ID не похож на выданный FileStore.
	ErrInvalidID = errors.New("invalid artifact id")
)

// FileStore — хранилище артефактов в каталоге.
//
// Структура: <root>/<первые 2 символа ID>/<ID>.
type FileStore struct {
	root  string
	sizes *lru.Cache[domain.ArtifactID, int64]
}

// NewFileStore создаёт FileStore, при необходимости создавая каталог.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store %s: %w", root, err)
	}
	sizes, err := lru.New[domain.ArtifactID, int64](sizeCacheEntries)
	if err != nil {
		return nil, err
	}
	return &FileStore{root: root, sizes: sizes}, nil
}

// Root возвращает каталог хранилища.
func (s *FileStore) Root() string { return s.root }

// Write копирует файл в хранилище и возвращает его ID.
func (s *FileStore) Write(ctx context.Context, path string) (domain.ArtifactID, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.root, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := xxhash.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write artifact from %s: %w", path, err)
	}

	id := domain.ArtifactID(strconv.FormatUint(h.Sum64(), 16) + "-" + strconv.FormatInt(size, 10))
	dst, err := s.path(id)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(dst); err == nil {
		s.sizes.Add(id, size)
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	s.sizes.Add(id, size)
	return id, nil
}

// Read копирует артефакт в path.
func (s *FileStore) Read(ctx context.Context, id domain.ArtifactID, path string) error {
	src, err := s.open(id)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", id, err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		return fmt.Errorf("read artifact %s: %w", id, err)
	}
	return dst.Close()
}

// Open открывает артефакт на чтение.
func (s *FileStore) Open(_ context.Context, id domain.ArtifactID) (io.ReadCloser, error) {
	return s.open(id)
}

// Size возвращает размер артефакта в байтах — дешёвые метаданные для
// оценки ресурсов.
func (s *FileStore) Size(_ context.Context, id domain.ArtifactID) (int64, error) {
	if size, ok := s.sizes.Get(id); ok {
		return size, nil
	}

	p, err := s.path(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, fmt.Errorf("stat artifact %s: %w", id, err)
	}

	s.sizes.Add(id, info.Size())
	return info.Size(), nil
}

func (s *FileStore) open(id domain.ArtifactID) (*os.File, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open artifact %s: %w", id, err)
	}
	return f, nil
}

func (s *FileStore) path(id domain.ArtifactID) (string, error) {
	name := string(id)
	if len(name) < 3 || filepath.Base(name) != name || name[0] == '.' {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, name)
	}
	return filepath.Join(s.root, name[:2], name), nil
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
