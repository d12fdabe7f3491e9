package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/fingerprint"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/storage"
	"github.com/shaiso/prreview/internal/telemetry"
)

const defaultCacheTTL = time.Hour

// Notifier получает уведомление о терминальном переходе задачи.
//
// В локальном режиме это Dispatcher, в распределённом — Worker,
// который публикует task.completed.
type Notifier interface {
	TaskSettled(ctx context.Context, task *domain.Task)
}

// Runner проводит задачу через жизненный цикл:
// PENDING → RUNNING → выполнение → SUCCEEDED/FAILED → кэш → уведомление.
type Runner struct {
	registry registry.Registry
	cache    cache.Cache
	executor *Executor
	store    storage.ReportStore
	notifier Notifier

	cacheTTL time.Duration
	clock    clock.Clock
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	Registry registry.Registry
	Cache    cache.Cache
	Executor *Executor

	// Store — архив отчётов (опционально).
	Store storage.ReportStore

	// Notifier — получатель уведомлений. Может быть выставлен позже через SetNotifier.
	Notifier Notifier

	CacheTTL time.Duration // default: 1h
	Clock    clock.Clock
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		executor: cfg.Executor,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		cacheTTL: cacheTTL,
		clock:    clock.OrSystem(cfg.Clock),
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// SetNotifier выставляет получателя уведомлений.
func (r *Runner) SetNotifier(n Notifier) {
	r.notifier = n
}

// Process выполняет задачу.
//
// Задача, которая уже не PENDING (взята другим воркером, отменена,
// завершена), пропускается с ErrTaskNotPending. Ошибка выполнения
// не возвращается: она фиксируется в задаче как FAILED.
func (r *Runner) Process(ctx context.Context, job domain.Job) error {
	logger := telemetry.WithTaskID(r.logger, job.TaskID.String())

	// 1. PENDING → RUNNING
	task, err := r.registry.Update(ctx, job.TaskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusPending {
			return ErrTaskNotPending
		}
		return t.MarkRunning(r.clock.Now())
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, job.TaskID)
		}
		return err
	}

	logger.Info("task started",
		"fingerprint", task.Fingerprint.Short(),
		"repo", task.Repo,
		"pr_number", task.PRNumber,
		"attempt", task.Attempt,
	)

	// 2. Выполнение
	result, execErr := r.executor.Execute(ctx, job)

	// Терминальный переход фиксируется даже после отмены ctx.
	settleCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		return r.fail(settleCtx, job, domain.AsTaskError(execErr), logger)
	}
	return r.succeed(settleCtx, job, result, logger)
}

func (r *Runner) succeed(ctx context.Context, job domain.Job, result *Result, logger *slog.Logger) error {
	// Задачу могли завершить без нас (janitor, отмена): тогда ни архива,
	// ни кэша, а MarkSucceeded ниже вернёт ErrInvalidTransition.
	snapshot, err := r.registry.Get(ctx, job.TaskID)
	switch {
	case err != nil:
		logger.Warn("failed to read task before settling", "error", err)
	case snapshot.Status != domain.TaskStatusRunning:
		logger.Warn("task settled elsewhere, result discarded", "status", snapshot.Status)
		return r.settleFailed(ctx, job, fmt.Errorf("%w: task is %s", domain.ErrInvalidTransition, snapshot.Status), logger)
	}
	running := err == nil

	// Архив — best-effort: его сбой не делает задачу неудачной.
	var ref string
	if r.store != nil && running {
		ref, err = r.store.Archive(ctx, snapshot, result.Report)
		if err != nil {
			logger.Warn("failed to archive report", "error", err)
		}
	}

	// Кэш пишется до терминального статуса: тот, кто увидит SUCCEEDED и придёт
	// с тем же fingerprint'ом, уже найдёт отчёт в кэше.
	// Отчёт по другому состоянию PR (head сдвинулся после вычисления
	// fingerprint'а) в кэш не попадает.
	switch {
	case !running:
		logger.Warn("task state unknown, cache write skipped")
	case fingerprint.Matches(job.Marker, result.Content):
		if err := r.cache.Put(ctx, job.Fingerprint, result.Report, r.cacheTTL); err != nil {
			logger.Warn("failed to write cache", "error", err)
		}
	default:
		logger.Info("pull request changed during analysis, cache write skipped",
			"fingerprint", job.Fingerprint.Short(),
			"head_sha", result.Content.HeadSHA,
		)
	}

	task, err := r.registry.Update(ctx, job.TaskID, func(t *domain.Task) error {
		return t.MarkSucceeded(result.Report, ref, r.clock.Now())
	})
	if err != nil {
		return r.settleFailed(ctx, job, err, logger)
	}

	logger.Info("task succeeded",
		"issues", len(result.Report.Issues),
		"duration", task.Duration(),
		"attempt", task.Attempt,
	)

	r.settled(ctx, task)
	return nil
}

func (r *Runner) fail(ctx context.Context, job domain.Job, taskErr *domain.TaskError, logger *slog.Logger) error {
	task, err := r.registry.Update(ctx, job.TaskID, func(t *domain.Task) error {
		return t.MarkFailed(taskErr, r.clock.Now())
	})
	if err != nil {
		return r.settleFailed(ctx, job, err, logger)
	}

	logger.Warn("task failed",
		"error_kind", taskErr.Kind,
		"error_code", taskErr.Code,
		"error", taskErr.Message,
		"attempt", task.Attempt,
	)

	r.settled(ctx, task)
	return nil
}

// settleFailed — терминальный переход не записался. Задачу в RUNNING снимет
// janitor; если же её успели завершить иначе, flight снимается уведомлением.
func (r *Runner) settleFailed(ctx context.Context, job domain.Job, err error, logger *slog.Logger) error {
	logger.Error("failed to record task outcome", "error", err)

	if r.notifier != nil {
		task, gerr := r.registry.Get(ctx, job.TaskID)
		if gerr == nil && task.IsFinished() {
			r.notifier.TaskSettled(ctx, task)
		}
	}
	return fmt.Errorf("record outcome: %w", err)
}

func (r *Runner) settled(ctx context.Context, task *domain.Task) {
	kind := ""
	if task.Error != nil {
		kind = string(task.Error.Kind)
	}
	r.metrics.Settled(string(task.Status), kind)
	r.metrics.ObserveTask(task.Duration())

	if r.notifier != nil {
		r.notifier.TaskSettled(ctx, task)
	}
}
