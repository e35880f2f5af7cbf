// Package telemetry содержит логирование (log/slog) и метрики prometheus.
package telemetry
