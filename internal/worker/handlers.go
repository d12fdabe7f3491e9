package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/prreview/internal/mq"
)

// handleTaskReady обрабатывает сообщение из очереди tasks.ready.
//
// Задача ставится в локальный пул, сообщение подтверждается сразу:
// если процесс упадёт до выполнения, задача останется PENDING и её подберёт poll.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received task.ready event",
		"task_id", payload.Job.TaskID,
		"fingerprint", payload.Job.Fingerprint.Short(),
	)

	if err := w.pool.Submit(ctx, nil, payload.Job); err != nil {
		return fmt.Errorf("enqueue task %s: %w", payload.Job.TaskID, err)
	}
	return nil
}

// handleEvent обрабатывает события из prreview.events; воркеру нужны только task.cancel.
func (w *Worker) handleEvent(ctx context.Context, delivery *mq.Delivery) error {
	if delivery.Message.Type != mq.MessageTypeTaskCancel {
		return nil
	}

	payload, err := mq.ParsePayload[mq.TaskCancelPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.cancel payload", "error", err)
		return err
	}

	// Задачу выполняет не более одного воркера; остальные ничего не делают.
	return w.pool.Cancel(ctx, payload.TaskID)
}
