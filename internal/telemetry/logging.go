package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Ключи атрибутов, общие для всех логов.
const (
	KeyInvocationID = "invocation_id"
	KeyTaskID       = "task_id"
	KeyPartition    = "partition"
)

// LogConfig — настройки логгера.
type LogConfig struct {
	// Level — DEBUG, INFO, WARN или ERROR, без учёта регистра. Пусто — INFO.
	Level string

	// Format — "text" или "json". Пусто — text.
	Format string
}

// LogConfigFromEnv читает LOG_LEVEL и LOG_FORMAT.
func LogConfigFromEnv() LogConfig {
	return LogConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
}

// NewLogger строит логгер, пишущий в w.
// На уровне DEBUG к записям добавляется место вызова.
func NewLogger(w io.Writer, cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", cfg.Format)
	}
}

// SetupLogger строит логгер из окружения и делает его глобальным.
// Логи идут в stderr: stdout занят результатами CLI. Неверные значения
// окружения не мешают запуску, логгер откатывается к INFO/text.
func SetupLogger() *slog.Logger {
	logger, err := NewLogger(os.Stderr, LogConfigFromEnv())
	if err != nil {
		logger, _ = NewLogger(os.Stderr, LogConfig{})
		logger.Warn("invalid logging settings, using defaults", "error", err)
	}
	slog.SetDefault(logger)
	return logger
}

// InvocationLogger добавляет к логгеру ID вызова.
func InvocationLogger(logger *slog.Logger, id fmt.Stringer) *slog.Logger {
	return logger.With(KeyInvocationID, id.String())
}

// TaskLogger добавляет к логгеру задачу и её партицию.
func TaskLogger(logger *slog.Logger, taskID, partition string) *slog.Logger {
	return logger.With(KeyTaskID, taskID, KeyPartition, partition)
}
