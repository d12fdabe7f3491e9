package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
)

// restoreBatchSize — сколько активных задач читается при восстановлении.
const restoreBatchSize = 1000

// Restore восстанавливает состояние после рестарта процесса.
//
// Для каждой нетерминальной задачи из реестра:
//   - регистрирует локальный flight (если marker свободен или принадлежит ей)
//   - PENDING задачи повторно передаёт backend'у
//
// RUNNING задачи не перезапускаются: их выполнение либо продолжается на другом
// воркере, либо будет снято janitor'ом по stale_after.
// Возвращает количество восстановленных flights.
func (d *Dispatcher) Restore(ctx context.Context) (int, error) {
	tasks, err := d.registry.ListActive(ctx, restoreBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}

	restored := 0
	for _, task := range tasks {
		if task.Fingerprint.IsZero() {
			continue
		}

		ok, err := d.restoreFlight(ctx, task)
		if err != nil {
			d.logger.Error("failed to restore flight", "task_id", task.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		restored++

		if task.Status != domain.TaskStatusPending {
			continue
		}

		if err := d.handOff(ctx, task, domain.JobFromTask(task)); err != nil {
			d.logger.Error("failed to resubmit pending task", "task_id", task.ID, "error", err)
			d.failTask(ctx, task.ID, domain.NewInternalError("resubmit after restart: "+err.Error()))
		}
	}

	d.logger.Info("dispatcher state restored",
		"active_tasks", len(tasks),
		"flights", restored,
	)

	return restored, nil
}

// restoreFlight регистрирует flight для задачи под keyed lock.
func (d *Dispatcher) restoreFlight(ctx context.Context, task *domain.Task) (bool, error) {
	unlock := d.locks.Lock(task.Fingerprint)
	defer unlock()

	d.mu.RLock()
	_, known := d.byTask[task.ID]
	d.mu.RUnlock()
	if known {
		return false, nil
	}

	// Повторный Claim своей же задачей успешен (marker в Postgres пережил рестарт).
	holder, claimed, err := d.inflight.Claim(ctx, task.Fingerprint, task.ID, d.leaseTTL)
	if err != nil {
		return false, err
	}
	if !claimed {
		d.logger.Warn("fingerprint held by another task, skipping restore",
			"task_id", task.ID,
			"holder_task_id", holder,
		)
		return false, nil
	}

	d.addFlight(newFlight(task.ID, task.Fingerprint, true, task.CreatedAt))
	return true, nil
}

// Reconcile снимает локальные flights, чьи задачи уже завершены или удалены.
//
// Страховка на случай потерянного уведомления о завершении (например,
// сообщение task.completed не дошло). Возвращает количество снятых flights.
func (d *Dispatcher) Reconcile(ctx context.Context) (int, error) {
	d.mu.RLock()
	flights := make([]*flight, 0, len(d.byTask))
	for _, f := range d.byTask {
		flights = append(flights, f)
	}
	d.mu.RUnlock()

	settled := 0
	for _, f := range flights {
		task, err := d.registry.Get(ctx, f.taskID)
		switch {
		case errors.Is(err, registry.ErrNotFound):
		case err != nil:
			return settled, err
		case !task.IsFinished():
			continue
		}

		d.Settle(ctx, f.taskID, f.fp)
		settled++
	}

	if settled > 0 {
		d.logger.Info("reconciled settled flights", "count", settled)
	}
	return settled, nil
}
