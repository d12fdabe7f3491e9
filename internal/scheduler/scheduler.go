package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
)

// Default configuration values.
const (
	defaultStaleAfter = 20 * time.Minute
	defaultBatchSize  = 100
)

// Settler — то, что janitor'у нужно от диспетчера.
type Settler interface {
	// Abort прерывает выполнение задачи в backend'е.
	Abort(ctx context.Context, taskID uuid.UUID) error
	Settle(ctx context.Context, taskID uuid.UUID, fp domain.Fingerprint)
}

// MarkerPurger удаляет истёкшие in-flight marker'ы (repo.InflightRepo).
type MarkerPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Locker — лидерство между несколькими процессами (repo.AdvisoryLock).
// Тик выполняет только процесс, захвативший блокировку.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Janitor — периодическая уборка.
//
// Каждый тик:
//  1. Удаляет задачи с истёкшим TTL из реестра
//  2. Удаляет истёкшие записи кэша и in-flight marker'ы
//  3. Переводит зависшие RUNNING задачи в FAILED(TIMEOUT), прерывает их выполнение,
//     снимает flights и marker'ы
//
// Ошибка одного шага не блокирует остальные.
type Janitor struct {
	registry registry.Registry
	cache    cache.Cache
	markers  MarkerPurger
	settler  Settler
	locker   Locker

	schedule   string
	staleAfter time.Duration
	batchSize  int

	cron   *cron.Cron
	clock  clock.Clock
	logger *slog.Logger
}

// Config — конфигурация Janitor.
type Config struct {
	Registry registry.Registry
	Cache    cache.Cache
	Markers  MarkerPurger // опционально
	Settler  Settler      // опционально
	Locker   Locker       // опционально: без него тикает каждый процесс

	Schedule   string        // cron-выражение (default: "@every 5m")
	StaleAfter time.Duration // возраст RUNNING задачи, после которого она считается зависшей (default: 20m)
	BatchSize  int           // задач за один тик (default: 100)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Report — итоги одного тика.
type Report struct {
	PurgedTasks   int
	PurgedCache   int
	PurgedMarkers int
	Reaped        int
}

// New создаёт новый Janitor.
func New(cfg Config) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		registry:   cfg.Registry,
		cache:      cfg.Cache,
		markers:    cfg.Markers,
		settler:    cfg.Settler,
		locker:     cfg.Locker,
		schedule:   schedule,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		clock:      clock.OrSystem(cfg.Clock),
		logger:     logger,
	}
}

// Start регистрирует тик в cron и запускает его.
func (j *Janitor) Start(ctx context.Context) error {
	clog := cronLogger{logger: j.logger}
	j.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	if _, err := j.cron.AddFunc(j.schedule, func() { j.run(ctx) }); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.Info("janitor started",
		"schedule", j.schedule,
		"stale_after", j.staleAfter,
	)
	return nil
}

// Stop останавливает cron и ждёт текущий тик.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()

	if j.locker != nil {
		if err := j.locker.Unlock(context.Background()); err != nil {
			j.logger.Warn("failed to release janitor lock", "error", err)
		}
	}
	j.logger.Info("janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if j.locker != nil {
		ok, err := j.locker.TryLock(ctx)
		if err != nil {
			j.logger.Error("janitor lock failed", "error", err)
			return
		}
		if !ok {
			// не лидер — пропускаем тик
			j.logger.Debug("janitor lock held by another process, skipping tick")
			return
		}
	}

	j.Tick(ctx)
}

// Tick выполняет один проход уборки.
func (j *Janitor) Tick(ctx context.Context) Report {
	var rep Report
	var err error

	if rep.PurgedTasks, err = j.registry.Purge(ctx); err != nil {
		j.logger.Error("failed to purge tasks", "error", err)
	}

	if j.cache != nil {
		if rep.PurgedCache, err = j.cache.Purge(ctx); err != nil {
			j.logger.Error("failed to purge cache", "error", err)
		}
	}

	if j.markers != nil {
		if rep.PurgedMarkers, err = j.markers.PurgeExpired(ctx); err != nil {
			j.logger.Error("failed to purge inflight markers", "error", err)
		}
	}

	rep.Reaped = j.reap(ctx)

	j.logger.Info("janitor tick completed",
		"purged_tasks", rep.PurgedTasks,
		"purged_cache", rep.PurgedCache,
		"purged_markers", rep.PurgedMarkers,
		"reaped", rep.Reaped,
	)
	return rep
}

// reap переводит зависшие RUNNING задачи в FAILED(TIMEOUT).
func (j *Janitor) reap(ctx context.Context) int {
	now := j.clock.Now()

	stale, err := j.registry.ListStale(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		j.logger.Error("failed to list stale tasks", "error", err)
		return 0
	}

	reaped := 0
	for _, t := range stale {
		task, err := j.registry.Update(ctx, t.ID, func(t *domain.Task) error {
			if t.Status != domain.TaskStatusRunning {
				return domain.ErrInvalidTransition
			}
			return t.MarkFailed(domain.NewTimeoutError(
				fmt.Sprintf("task exceeded %s without settling", j.staleAfter),
			), now)
		})
		if err != nil {
			// Задача успела завершиться сама — это не ошибка.
			j.logger.Debug("stale task not reaped", "task_id", t.ID, "reason", err)
			continue
		}

		j.logger.Warn("reaped stale task",
			"task_id", task.ID,
			"fingerprint", task.Fingerprint.Short(),
			"started_at", task.StartedAt,
		)
		if j.settler != nil {
			// Выполнение прерывается до снятия marker'а, иначе новый Submit
			// запустит второе выполнение рядом с ещё живым первым.
			if err := j.settler.Abort(ctx, task.ID); err != nil {
				j.logger.Warn("failed to abort stale task", "task_id", task.ID, "error", err)
			}
			j.settler.Settle(ctx, task.ID, task.Fingerprint)
		}
		reaped++
	}
	return reaped
}
