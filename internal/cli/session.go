package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/shaiso/alignflow/internal/artifact"
	"github.com/shaiso/alignflow/internal/batch"
	"github.com/shaiso/alignflow/internal/checkpoint"
	"github.com/shaiso/alignflow/internal/engine"
	"github.com/shaiso/alignflow/internal/jobstore"
	"github.com/shaiso/alignflow/internal/localexec"
	"github.com/shaiso/alignflow/internal/mq"
	"github.com/shaiso/alignflow/internal/pipeline"
	"github.com/shaiso/alignflow/internal/repo"
	"github.com/shaiso/alignflow/internal/toolexec"
)

// session — собранное окружение одного запуска align или batch.
type session struct {
	coord   *batch.Coordinator
	logger  *slog.Logger
	closers []func() error
}

// newSession открывает job store, artifact store, durable store и
// (если задан RABBITMQ_URL) публикацию событий.
func newSession(ctx context.Context, o *Options, logger *slog.Logger) (_ *session, err error) {
	rt := &session{logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := o.validateRestart(); err != nil {
		return nil, err
	}

	cfg, err := o.pipelineConfig()
	if err != nil {
		return nil, err
	}
	defaults, err := o.planOptions()
	if err != nil {
		return nil, err
	}
	if defaults.MaxCores == 0 {
		defaults.MaxCores = runtime.NumCPU()
	}
	retryBackoff, err := time.ParseDuration(o.RetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("--retryBackoff: %w", err)
	}

	store, artifactRoot, err := rt.openJobStore(ctx, o)
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.NewFileStore(artifactRoot)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(logger)
	if err != nil {
		return nil, err
	}

	funcs := engine.NewFuncRegistry()
	pipeline.Register(funcs, pipeline.Services{
		Artifacts: artifacts,
		Tools:     toolexec.NewRunner(logger),
		Sink:      sink,
	})

	exec := localexec.New(localexec.Config{
		Funcs:        funcs,
		Store:        store,
		Notifier:     rt.notifier(),
		MaxCores:     defaults.MaxCores,
		MaxMemory:    defaults.MaxMemory,
		RetryCount:   o.retryCount(),
		RetryBackoff: retryBackoff,
		WorkDir:      o.WorkDir,
		Logger:       logger,
	})

	rt.coord = batch.New(batch.Config{
		Substrate: exec,
		Funcs:     funcs,
		Artifacts: artifacts,
		Sink:      sink,
		Pipeline:  cfg,
		Defaults:  defaults,
		Logger:    logger,
	})
	return rt, nil
}

// openJobStore открывает job store по --jobStore и выбирает каталог артефактов.
// Артефакты должны пережить процесс вместе с job store, иначе рестарт
// не найдёт результаты завершённых задач.
func (rt *session) openJobStore(ctx context.Context, o *Options) (localexec.JobStore, string, error) {
	kind, value, err := jobStoreKind(o.JobStore)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case "dir":
		store, err := jobstore.NewDir(value)
		if err != nil {
			return nil, "", err
		}
		rt.logger.Info("job store opened", "kind", kind, "path", value)
		return store, filepath.Join(value, "artifacts"), nil

	case "pg":
		pool, err := repo.NewPool(ctx)
		if err != nil {
			return nil, "", err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

		store := repo.NewJobRepo(pool, value)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, "", err
		}
		base := o.WorkDir
		if base == "" {
			base = os.TempDir()
		}
		rt.logger.Info("job store opened", "kind", kind, "name", value)
		return store, filepath.Join(base, "alignflow-"+value+"-artifacts"), nil

	default:
		dir, err := os.MkdirTemp(o.WorkDir, "alignflow-artifacts-")
		if err != nil {
			return nil, "", err
		}
		rt.closers = append(rt.closers, func() error { return os.RemoveAll(dir) })
		return jobstore.NewMemory(), dir, nil
	}
}

// notifier подключается к брокеру, если задан RABBITMQ_URL.
// Недоступный брокер не мешает запуску: события просто не публикуются.
func (rt *session) notifier() localexec.Notifier {
	if os.Getenv("RABBITMQ_URL") == "" {
		return nil
	}
	conn, err := mq.Dial(mq.URL(), rt.logger)
	if err != nil {
		rt.logger.Warn("RabbitMQ not available, events disabled", "error", err)
		return nil
	}
	rt.closers = append(rt.closers, conn.Close)

	if err := mq.SetupTopology(conn); err != nil {
		rt.logger.Warn("failed to setup topology", "error", err)
	}
	return mq.NewPublisher(conn, rt.logger)
}

// newSink строит checkpoint sink. S3 подключается, только если заданы ключи.
func newSink(logger *slog.Logger) (*checkpoint.Sink, error) {
	router := &checkpoint.Router{}

	s3cfg := checkpoint.S3ConfigFromEnv()
	if s3cfg.AccessKey != "" && s3cfg.SecretKey != "" {
		s3, err := checkpoint.NewS3Store(s3cfg)
		if err != nil {
			return nil, err
		}
		router.S3 = s3
		logger.Info("durable store configured", "endpoint", s3cfg.Endpoint)
	}
	return checkpoint.NewSink(router, checkpoint.SinkConfig{Logger: logger}), nil
}

// Close освобождает ресурсы в обратном порядке.
func (rt *session) Close() error {
	var errs *multierror.Error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	rt.closers = nil
	return errs.ErrorOrNil()
}
