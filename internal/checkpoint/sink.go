package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/telemetry"
)

const (
	defaultRetryCount   = 3
	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = 30 * time.Second

	// probeName — объект, который Probe пишет рядом с целью.
	probeName = ".alignflow-probe"
)

var (
	// ErrCheckpointFailed — запись в durable store не удалась после всех попыток.
	ErrCheckpointFailed = errors.New("checkpoint failed")

	// ErrInvalidKey — ключ назначения не распознан.
	ErrInvalidKey = errors.New("invalid checkpoint key")
)

// Store — durable store для чекпоинтов.
type Store interface {
	// Put копирует локальный файл в key. region может быть пустым.
	Put(ctx context.Context, localPath, key, region string) error
}

// Remover — store, умеющий удалять объекты. Probe убирает за собой
// пробный объект, если store это поддерживает.
type Remover interface {
	Remove(ctx context.Context, key, region string) error
}

// SinkConfig — настройки Sink.
type SinkConfig struct {
	// RetryCount — повторы после первой неудачной записи (0 → 3, -1 → без повторов).
	RetryCount int

	// RetryBackoff — начальная пауза между повторами.
	RetryBackoff time.Duration

	Logger *slog.Logger
}

// Sink — запись артефактов в durable store с ограниченным числом повторов.
type Sink struct {
	store        Store
	retryCount   int
	retryBackoff time.Duration
	logger       *slog.Logger
}

// NewSink создаёт Sink поверх store.
func NewSink(store Store, cfg SinkConfig) *Sink {
	retryCount := cfg.RetryCount
	switch {
	case retryCount == 0:
		retryCount = defaultRetryCount
	case retryCount < 0:
		retryCount = 0
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:        store,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// MaybeCheckpoint пишет файл в target и возвращает true.
// Без target ничего не делает и возвращает false.
//
// Неудача после всех повторов — ErrCheckpointFailed. Тело задачи не должно
// продолжать работу после такой ошибки: результат не был бы ни сохранён,
// ни экспортирован.
func (s *Sink) MaybeCheckpoint(ctx context.Context, artifactPath string, target *domain.CheckpointTarget) (bool, error) {
	if target == nil {
		return false, nil
	}
	if strings.TrimSpace(target.Key) == "" {
		return false, fmt.Errorf("%w: %w: empty key", ErrCheckpointFailed, ErrInvalidKey)
	}

	if err := s.put(ctx, artifactPath, target); err != nil {
		telemetry.CheckpointsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("%w: %s: %w", ErrCheckpointFailed, target.Key, err)
	}

	telemetry.CheckpointsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("artifact checkpointed", "key", target.Key, "region", target.Region)
	return true, nil
}

func (s *Sink) put(ctx context.Context, localPath string, target *domain.CheckpointTarget) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBackoff
	policy.MaxInterval = maxRetryBackoff
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := s.store.Put(ctx, localPath, target.Key, target.Region)
		if errors.Is(err, ErrInvalidKey) || errors.Is(err, os.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("checkpoint write failed, retrying",
			"key", target.Key,
			"error", err,
			"backoff", wait,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.retryCount)), ctx)
	return backoff.RetryNotify(operation, b, notify)
}

// Probe пишет небольшой объект рядом с target, чтобы недоступное хранилище
// обнаружилось до запуска выравнивания, а не после него.
func (s *Sink) Probe(ctx context.Context, target *domain.CheckpointTarget) error {
	if target == nil {
		return nil
	}
	key, err := ProbeKey(target.Key)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "alignflow-probe-*")
	if err != nil {
		return fmt.Errorf("create probe: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString("alignflow checkpoint probe\n"); err != nil {
		f.Close()
		return fmt.Errorf("write probe: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}

	if err := s.store.Put(ctx, f.Name(), key, target.Region); err != nil {
		return fmt.Errorf("%w: probe %s: %w", ErrCheckpointFailed, key, err)
	}
	if r, ok := s.store.(Remover); ok {
		if err := r.Remove(ctx, key, target.Region); err != nil {
			s.logger.Warn("failed to remove probe object", "key", key, "error", err)
		}
	}
	return nil
}

// ProbeKey возвращает ключ пробного объекта в «каталоге» key.
func ProbeKey(key string) (string, error) {
	scheme, rest, err := splitKey(key)
	if err != nil {
		return "", err
	}
	if scheme == "" {
		return filepath.Join(filepath.Dir(rest), probeName), nil
	}
	dir := rest
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		dir = rest[:i]
	}
	return scheme + "://" + dir + "/" + probeName, nil
}

// DerivedKey возвращает ключ производного формата: расширение key заменяется на ext.
func DerivedKey(key, ext string) string {
	base := key
	if i := strings.LastIndexAny(key, "./"); i >= 0 && key[i] == '.' {
		base = key[:i]
	}
	return base + ext
}

// splitKey разбирает ключ на схему и остаток. Пустая схема — локальный путь.
func splitKey(key string) (scheme, rest string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	i := strings.Index(key, "://")
	if i < 0 {
		return "", key, nil
	}
	scheme, rest = strings.ToLower(key[:i]), key[i+3:]
	if rest == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return scheme, rest, nil
}
