package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/telemetry"
)

// SubmitOptions — два независимых флага Submit.
//
// Снаружи доступна одна комбинация на запрос (OptionsFor), но внутри флаги
// независимы, чтобы все четыре комбинации можно было проверить отдельно.
type SubmitOptions struct {
	// ReadCache — проверить кэш перед запуском выполнения.
	ReadCache bool

	// Dedup — присоединиться к уже идущему выполнению того же fingerprint'а.
	Dedup bool
}

// OptionsFor возвращает опции для внешнего флага force.
// force пропускает чтение кэша, но dedup сохраняется.
func OptionsFor(force bool) SubmitOptions {
	return SubmitOptions{ReadCache: !force, Dedup: true}
}

// Submit регистрирует работу для fingerprint'а и возвращает Handle.
//
// Возможные исходы:
//   - в кэше есть свежий отчёт (ReadCache) → новая задача сразу SUCCEEDED, backend не вызывается
//   - fingerprint уже выполняется (Dedup) → Handle существующей задачи
//   - иначе → новая PENDING задача, передаётся backend'у после снятия блокировки
//
// job.TaskID заполняется диспетчером.
func (d *Dispatcher) Submit(ctx context.Context, fp domain.Fingerprint, job domain.Job, opts SubmitOptions) (*Handle, error) {
	if fp.IsZero() {
		return nil, fmt.Errorf("%w: empty fingerprint", domain.ErrInvalidInput)
	}
	if d.IsStopped() {
		return nil, ErrDispatcherStopped
	}

	logger := telemetry.WithFingerprint(d.logger, fp.String())

	unlock := d.locks.Lock(fp)
	defer unlock()

	// Вызывающий мог сдаться, пока ждал блокировку.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Кэш
	if opts.ReadCache {
		h, err := d.submitFromCache(ctx, fp, job)
		if err != nil {
			return nil, err
		}
		if h != nil {
			logger.Debug("submit served from cache", "task_id", h.TaskID)
			return h, nil
		}
	}

	// 2. Локальный flight
	if opts.Dedup {
		if f := d.lookupFlight(fp); f != nil {
			live, err := d.flightLive(ctx, f)
			if err != nil {
				d.metrics.Submitted(telemetry.OutcomeFailed)
				return nil, fmt.Errorf("lookup flight task: %w", err)
			}
			if live {
				d.metrics.Submitted(telemetry.OutcomeDeduplicated)
				logger.Debug("submit attached to local flight", "task_id", f.taskID)
				return d.newHandle(f.taskID, fp, f.done, false, true), nil
			}

			// Задача уже завершена, но уведомление о ней ещё не дошло.
			logger.Info("dropping settled local flight", "task_id", f.taskID)
			d.Settle(ctx, f.taskID, fp)
		}
	}

	// 3. In-flight marker (system-wide)
	taskID := uuid.New()
	if opts.Dedup {
		holder, claimed, err := d.claim(ctx, fp, taskID)
		if err != nil {
			d.metrics.Submitted(telemetry.OutcomeFailed)
			return nil, fmt.Errorf("claim inflight marker: %w", err)
		}
		if !claimed {
			d.metrics.Submitted(telemetry.OutcomeDeduplicated)
			logger.Debug("submit attached to remote flight", "task_id", holder)
			return d.newHandle(holder, fp, nil, false, true), nil
		}
	}

	// 4. Задача в реестре
	task := domain.NewTask(fp, job.Repo.FullName(), job.Number, job.HeadSHA, d.clock.Now())
	task.ID = taskID
	task.Marker = job.Marker
	task.Forced = !opts.ReadCache

	if err := d.registry.Create(ctx, task); err != nil {
		if opts.Dedup {
			d.releaseMarker(ctx, fp, taskID)
		}
		d.metrics.Submitted(telemetry.OutcomeFailed)
		return nil, fmt.Errorf("create task: %w", err)
	}

	// 5. Flight
	f := newFlight(taskID, fp, opts.Dedup, task.CreatedAt)
	d.addFlight(f)
	unlock()

	d.metrics.Submitted(telemetry.OutcomeCreated)
	logger.Info("task submitted",
		"task_id", taskID,
		"repo", task.Repo,
		"pr_number", task.PRNumber,
		"forced", task.Forced,
	)

	// 6. Передача backend'у — без блокировки
	job.TaskID = taskID
	job.Fingerprint = fp
	if err := d.handOff(ctx, task, job); err != nil {
		logger.Error("backend submit failed", "task_id", taskID, "error", err)
		d.failTask(ctx, taskID, domain.NewInternalError("backend submit: "+err.Error()))
	}

	return d.newHandle(taskID, fp, f.done, false, false), nil
}

// submitFromCache создаёт SUCCEEDED задачу из кэша. nil Handle — промах.
func (d *Dispatcher) submitFromCache(ctx context.Context, fp domain.Fingerprint, job domain.Job) (*Handle, error) {
	entry, ok, err := d.cache.Get(ctx, fp)
	if err != nil {
		// Кэш — оптимизация: ошибка чтения равна промаху.
		d.logger.Warn("cache read failed", "fingerprint", fp.Short(), "error", err)
		ok = false
	}
	d.metrics.CacheLookup(ok)
	if !ok {
		return nil, nil
	}

	task := domain.NewCachedTask(fp, job.Repo.FullName(), job.Number, entry.Report, d.clock.Now())
	task.Marker = job.Marker
	if err := d.registry.Create(ctx, task); err != nil {
		d.metrics.Submitted(telemetry.OutcomeFailed)
		return nil, fmt.Errorf("create cached task: %w", err)
	}

	d.metrics.Submitted(telemetry.OutcomeCached)
	return d.newHandle(task.ID, fp, closedCh, true, false), nil
}

// SubmitFailed регистрирует задачу, которая упала ещё до вычисления
// fingerprint'а (PR не найден, нет доступа, GitHub недоступен).
// Задача рождается FAILED, backend не вызывается.
func (d *Dispatcher) SubmitFailed(ctx context.Context, repo string, number int, taskErr *domain.TaskError) (*Handle, error) {
	task := domain.NewFailedTask(repo, number, taskErr, d.clock.Now())
	if err := d.registry.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create failed task: %w", err)
	}

	d.metrics.Submitted(telemetry.OutcomeFailed)
	d.metrics.Settled(string(task.Status), string(taskErr.Kind))

	d.logger.Info("task failed before dispatch",
		"task_id", task.ID,
		"repo", repo,
		"pr_number", number,
		"error_kind", taskErr.Kind,
		"error_code", taskErr.Code,
	)

	return d.newHandle(task.ID, "", closedCh, false, false), nil
}

// claim захватывает marker. Если marker держит задача, которая уже завершена
// или удалена (владелец упал до Release), marker перехватывается.
func (d *Dispatcher) claim(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID) (uuid.UUID, bool, error) {
	holder, claimed, err := d.inflight.Claim(ctx, fp, taskID, d.leaseTTL)
	if err != nil || claimed {
		return holder, claimed, err
	}

	held, err := d.registry.Get(ctx, holder)
	switch {
	case errors.Is(err, registry.ErrNotFound):
	case err != nil:
		return uuid.Nil, false, err
	case !held.IsFinished():
		return holder, false, nil
	}

	d.logger.Warn("releasing orphaned inflight marker",
		"fingerprint", fp.Short(),
		"holder_task_id", holder,
	)
	if err := d.inflight.Release(ctx, fp, holder); err != nil {
		return uuid.Nil, false, err
	}
	return d.inflight.Claim(ctx, fp, taskID, d.leaseTTL)
}

// flightLive проверяет по реестру, что задача flight'а ещё PENDING или RUNNING.
func (d *Dispatcher) flightLive(ctx context.Context, f *flight) (bool, error) {
	task, err := d.registry.Get(ctx, f.taskID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return !task.IsFinished(), nil
}

func (d *Dispatcher) handOff(ctx context.Context, task *domain.Task, job domain.Job) error {
	if d.backend == nil {
		return errors.New("no execution backend configured")
	}
	return d.backend.Submit(ctx, task, job)
}

func (d *Dispatcher) newHandle(taskID uuid.UUID, fp domain.Fingerprint, done <-chan struct{}, cached, dedup bool) *Handle {
	return &Handle{
		TaskID:       taskID,
		Fingerprint:  fp,
		Cached:       cached,
		Deduplicated: dedup,
		done:         done,
		registry:     d.registry,
		poll:         d.waitPoll,
		onFinal: func(ctx context.Context, t *domain.Task) {
			d.Settle(ctx, t.ID, t.Fingerprint)
		},
	}
}

// TaskSettled — уведомление от backend'а о терминальном переходе задачи.
func (d *Dispatcher) TaskSettled(ctx context.Context, task *domain.Task) {
	d.Settle(ctx, task.ID, task.Fingerprint)
}

// Settle снимает flight и in-flight marker задачи. Идемпотентен.
//
// Вызывается после того, как реестр зафиксировал терминальный статус
// (успех, ошибка, таймаут или отмена).
func (d *Dispatcher) Settle(ctx context.Context, taskID uuid.UUID, fp domain.Fingerprint) {
	f := d.removeFlight(taskID)
	if f != nil {
		fp = f.fp
	}

	if !fp.IsZero() {
		d.releaseMarker(ctx, fp, taskID)
	}

	if f != nil {
		f.finish()
		d.logger.Debug("flight settled", "task_id", taskID, "fingerprint", fp.Short())
	}
}

func (d *Dispatcher) releaseMarker(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID) {
	// Marker снимается даже при отменённом ctx вызывающего.
	if err := d.inflight.Release(context.WithoutCancel(ctx), fp, taskID); err != nil {
		d.logger.Warn("failed to release inflight marker",
			"fingerprint", fp.Short(),
			"task_id", taskID,
			"error", err,
		)
	}
}

// failTask переводит нетерминальную задачу в FAILED и снимает flight.
func (d *Dispatcher) failTask(ctx context.Context, taskID uuid.UUID, taskErr *domain.TaskError) {
	ctx = context.WithoutCancel(ctx)

	task, err := d.registry.Update(ctx, taskID, func(t *domain.Task) error {
		return t.MarkFailed(taskErr, d.clock.Now())
	})
	if err != nil {
		d.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
	} else {
		d.metrics.Settled(string(task.Status), string(taskErr.Kind))
	}

	var fp domain.Fingerprint
	if task != nil {
		fp = task.Fingerprint
	}
	d.Settle(ctx, taskID, fp)
}

// Cancel отменяет задачу.
//
//   - PENDING → FAILED(CANCELLED) сразу, без побочных эффектов
//   - RUNNING → best-effort отмена через backend; задача перейдёт в FAILED,
//     когда выполнение заметит отмену контекста
//   - терминальная → ErrTaskFinished
//
// Возвращает snapshot задачи после операции.
func (d *Dispatcher) Cancel(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := d.registry.Update(ctx, taskID, func(t *domain.Task) error {
		switch {
		case t.Status == domain.TaskStatusPending:
			return t.MarkCancelled("cancelled before start", d.clock.Now())
		case t.Status == domain.TaskStatusRunning:
			return errCancelRunning
		default:
			return ErrTaskFinished
		}
	})

	switch {
	case err == nil:
		d.metrics.Settled(string(task.Status), string(domain.ErrorKindCancelled))
		d.logger.Info("pending task cancelled", "task_id", taskID)
		d.Settle(ctx, task.ID, task.Fingerprint)
		return task, nil

	case errors.Is(err, errCancelRunning):
		if d.backend != nil {
			if err := d.backend.Cancel(ctx, taskID); err != nil {
				d.logger.Warn("backend cancel failed", "task_id", taskID, "error", err)
			}
		}
		d.logger.Info("cancellation requested for running task", "task_id", taskID)
		return d.registry.Get(ctx, taskID)

	default:
		return nil, err
	}
}

// Abort прерывает выполнение задачи в backend'е, не трогая реестр.
// Используется, когда задачу уже завершил кто-то другой (janitor).
func (d *Dispatcher) Abort(ctx context.Context, taskID uuid.UUID) error {
	if d.backend == nil {
		return nil
	}
	return d.backend.Cancel(ctx, taskID)
}
