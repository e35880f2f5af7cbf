package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выполнения. Регистрируются в реестре prometheus по умолчанию
// и отдаются через /metrics (см. --metrics-addr).
var (
	// TasksTotal — завершённые задачи по статусу.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alignflow_tasks_total",
		Help: "Total number of finished tasks by status",
	}, []string{"status"})

	// TaskDuration — длительность тела задачи по функции.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alignflow_task_duration_seconds",
		Help:    "Task body duration by function",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"func"})

	// PartitionsTotal — итоги партиций.
	PartitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alignflow_partitions_total",
		Help: "Total number of finished partitions by status",
	}, []string{"status"})

	// CheckpointsTotal — записи в durable store.
	CheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alignflow_checkpoints_total",
		Help: "Total number of checkpoint writes by result",
	}, []string{"result"})

	// ResourceEstimates — переотправки задач с оценёнными ресурсами.
	ResourceEstimates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alignflow_resource_estimates_total",
		Help: "Total number of deferred resource estimations",
	})

	// ToolRuns — запуски внешних инструментов.
	ToolRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alignflow_tool_runs_total",
		Help: "Total number of external tool invocations by tool and result",
	}, []string{"tool", "result"})
)
