// prreview-api — HTTP API анализа pull request'ов.
//
// Процесс:
//   - Принимает запросы на анализ (одиночные и batch)
//   - Вычисляет fingerprint PR и схлопывает дубликаты (Single-Flight Dispatcher)
//   - Выполняет задачи в локальном пуле или отдаёт их prreview-worker через RabbitMQ
//   - Периодически чистит истёкшие задачи, кэш и зависшие выполнения (janitor)
//
// Конфигурация: PRREVIEW_CONFIG (YAML), .env, переменные окружения.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/prreview/internal/analyzer"
	"github.com/shaiso/prreview/internal/api"
	"github.com/shaiso/prreview/internal/config"
	"github.com/shaiso/prreview/internal/github"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/orchestrator"
	"github.com/shaiso/prreview/internal/review"
	"github.com/shaiso/prreview/internal/scheduler"
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
	logger.Info("starting prreview-api",
		"store", cfg.Store.Driver,
		"backend", cfg.Backend.Driver,
		"fingerprint_marker", cfg.Fingerprint.Marker,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("prreview-api failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Хранилища
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	healthChecks := map[string]api.HealthCheck{}
	if st.pool != nil {
		healthChecks["db"] = st.Ping
	}

	// RabbitMQ (только для распределённого backend'а)
	var mqConn *mq.Connection
	if cfg.Backend.Driver == config.BackendAMQP {
		mqConn, err = mq.NewConnection(cfg.Backend.AMQPURL, logger)
		if err != nil {
			return err
		}
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			return err
		}
		healthChecks["mq"] = func(context.Context) error {
			if !mqConn.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
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

	dispatcher := orchestrator.New(orchestrator.Config{
		Registry: st.registry,
		Cache:    st.cache,
		Inflight: st.inflight,
		Conn:     mqConn,
		CacheTTL: cfg.Cache.TTL,
		LeaseTTL: cfg.Registry.LeaseTTL,
		Metrics:  metrics,
		Logger:   logger,
	})

	// Execution Backend
	var pool *worker.Pool
	switch cfg.Backend.Driver {
	case config.BackendAMQP:
		dispatcher.SetBackend(worker.NewRemote(mq.NewPublisher(mqConn, logger)))

	default:
		an, err := analyzer.New(cfg.Analyzer, logger)
		if err != nil {
			return err
		}
		archive, err := openArchive(ctx, cfg, metrics, logger)
		if err != nil {
			return err
		}

		runner := worker.NewRunner(worker.RunnerConfig{
			Registry: st.registry,
			Cache:    st.cache,
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
			Notifier: dispatcher,
			CacheTTL: cfg.Cache.TTL,
			Metrics:  metrics,
			Logger:   logger,
		})

		pool = worker.NewPool(worker.PoolConfig{
			Runner:  runner,
			Workers: cfg.Backend.Workers,
			Metrics: metrics,
			Logger:  logger,
		})
		pool.Start(ctx)
		dispatcher.SetBackend(pool)
		logger.Info("local execution pool started", "workers", cfg.Backend.Workers, "analyzer", an.Name())
	}

	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	// Задачи, оставшиеся от предыдущего запуска
	restored, err := dispatcher.Restore(ctx)
	if err != nil {
		logger.Warn("failed to restore in-flight tasks", "error", err)
	} else if restored > 0 {
		logger.Info("restored in-flight tasks", "count", restored)
	}

	// Janitor
	janitorCfg := scheduler.Config{
		Registry:   st.registry,
		Cache:      st.cache,
		Settler:    dispatcher,
		Schedule:   cfg.Janitor.Schedule,
		StaleAfter: cfg.Janitor.StaleAfter,
		Logger:     logger,
	}
	if st.pool != nil {
		janitorCfg.Markers = st.markers
		janitorCfg.Locker = st.lock
	}
	janitor := scheduler.New(janitorCfg)
	if err := janitor.Start(ctx); err != nil {
		return err
	}

	svc := review.New(review.Config{
		Dispatcher:       dispatcher,
		Registry:         st.registry,
		GitHub:           gh,
		Mode:             cfg.Fingerprint.Marker,
		Retry:            &cfg.Retry,
		FetchTimeout:     cfg.Backend.FetchTimeout,
		BatchMaxItems:    cfg.Batch.MaxItems,
		BatchConcurrency: cfg.Batch.Concurrency,
		Metrics:          metrics,
		Logger:           logger,
	})

	handler := api.NewHandler(api.Config{
		Reviewer:       svc,
		HealthChecks:   healthChecks,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Registerer:     prometheus.DefaultRegisterer,
		MetricsHandler: promhttp.Handler(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидаем сигнал завершения
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	janitor.Stop()
	dispatcher.Stop()
	if pool != nil {
		pool.Stop()
	}
	return nil
}
