package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/config"
	"github.com/shaiso/prreview/internal/orchestrator"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/repo"
	"github.com/shaiso/prreview/internal/scheduler"
	"github.com/shaiso/prreview/internal/storage"
	"github.com/shaiso/prreview/internal/telemetry"
)

// stores — реестр, кэш и in-flight marker'ы выбранного драйвера.
type stores struct {
	registry registry.Registry
	cache    cache.Cache
	inflight orchestrator.InflightStore

	// только для postgres
	pool    *pgxpool.Pool
	markers *repo.InflightRepo
	lock    *repo.AdvisoryLock
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store.Driver != config.StorePostgres {
		logger.Info("using in-memory stores")
		return &stores{
			registry: registry.NewMemory(nil, cfg.Registry.TaskTTL),
			cache:    cache.NewMemory(nil),
			inflight: orchestrator.NewMemoryInflight(nil),
		}, nil
	}

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.Store.URL, MaxConns: cfg.Store.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to database")

	markers := repo.NewInflightRepo(pool, nil)
	return &stores{
		registry: repo.NewTaskRepo(pool, nil, cfg.Registry.TaskTTL),
		cache:    repo.NewCacheRepo(pool, nil),
		inflight: markers,
		pool:     pool,
		markers:  markers,
		lock:     repo.NewAdvisoryLock(pool, scheduler.LockKey),
	}, nil
}

// Ping проверяет соединение с базой (для /healthz).
func (s *stores) Ping(ctx context.Context) error {
	return repo.Ping(ctx, s.pool)
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openArchive подключает архив отчётов. nil — архив выключен.
func openArchive(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (storage.ReportStore, error) {
	if cfg.Archive.Driver != config.ArchiveMinio {
		return nil, nil
	}
	store, err := storage.NewMinio(ctx, cfg.Archive.Minio, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to report archive: %w", err)
	}
	logger.Info("report archive enabled", "endpoint", cfg.Archive.Minio.Endpoint, "bucket", cfg.Archive.Minio.Bucket)
	return store, nil
}
