// prreview-worker — выполняет задачи анализа PR.
//
// Worker:
//   - Получает задачи из RabbitMQ (tasks.ready)
//   - Подбирает зависшие PENDING задачи из реестра (polling fallback)
//   - Загружает PR из GitHub и анализирует его (retry с backoff)
//   - Пишет отчёт в кэш и реестр, публикует task.completed
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/prreview/internal/analyzer"
	"github.com/shaiso/prreview/internal/config"
	"github.com/shaiso/prreview/internal/github"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/repo"
	"github.com/shaiso/prreview/internal/storage"
	"github.com/shaiso/prreview/internal/telemetry"
	"github.com/shaiso/prreview/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting prreview-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("prreview-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("prreview-worker stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Store.Driver != config.StorePostgres {
		return errors.New("prreview-worker requires store.driver postgres: the registry is shared with prreview-api")
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.Store.URL, MaxConns: cfg.Store.MaxConns})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("database connected")

	taskRepo := repo.NewTaskRepo(pool, nil, cfg.Registry.TaskTTL)
	cacheRepo := repo.NewCacheRepo(pool, nil)

	// RabbitMQ
	var publisher worker.Publisher
	var mqConn *mq.Connection
	mqConn, err = mq.NewConnection(cfg.Backend.AMQPURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	an, err := analyzer.New(cfg.Analyzer, logger)
	if err != nil {
		return err
	}

	var archive storage.ReportStore
	if cfg.Archive.Driver == config.ArchiveMinio {
		store, err := storage.NewMinio(ctx, cfg.Archive.Minio, metrics, logger)
		if err != nil {
			return fmt.Errorf("connect to report archive: %w", err)
		}
		archive = store
	}

	gh := github.New(github.Config{
		BaseURL:      cfg.GitHub.BaseURL,
		DefaultToken: cfg.GitHub.Token,
		RateLimit:    cfg.GitHub.RateLimit,
		Burst:        cfg.GitHub.Burst,
		Timeout:      cfg.GitHub.Timeout,
		Metrics:      metrics,
		Logger:       logger,
	})

	runner := worker.NewRunner(worker.RunnerConfig{
		Registry: taskRepo,
		Cache:    cacheRepo,
		Executor: worker.NewExecutor(worker.ExecutorConfig{
			Fetcher:         gh,
			Analyzer:        an,
			Retry:           &cfg.Retry,
			FetchTimeout:    cfg.Backend.FetchTimeout,
			AnalysisTimeout: cfg.Backend.AnalysisTimeout,
			Metrics:         metrics,
			Logger:          logger,
		}),
		Store:    archive,
		CacheTTL: cfg.Cache.TTL,
		Metrics:  metrics,
		Logger:   logger,
	})

	// Создаём worker
	w := worker.New(worker.Config{
		Registry:     taskRepo,
		Runner:       runner,
		Workers:      cfg.Backend.Workers,
		Publisher:    publisher,
		Conn:         mqConn,
		PollInterval: cfg.Worker.PollInterval,
		PollGrace:    cfg.Worker.PollGrace,
		BatchSize:    cfg.Worker.BatchSize,
		Logger:       logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context(), pool); err != nil {
			http.Error(rw, "db: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	// Останавливаем worker
	w.Stop()
	return nil
}
