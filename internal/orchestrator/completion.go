package orchestrator

import (
	"context"

	"github.com/shaiso/prreview/internal/mq"
)

// handleEvent обрабатывает события из fanout exchange prreview.events.
//
// Диспетчеру нужны только task.completed; task.cancel адресованы воркерам.
func (d *Dispatcher) handleEvent(ctx context.Context, delivery *mq.Delivery) error {
	if delivery.Message.Type != mq.MessageTypeTaskCompleted {
		return nil
	}

	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		d.logger.Error("failed to parse task.completed payload", "error", err)
		return err
	}

	d.logger.Debug("received task.completed event",
		"task_id", payload.TaskID,
		"fingerprint", payload.Fingerprint.Short(),
		"status", payload.Status,
	)

	// Событие получают все процессы API; Settle идемпотентен и снимает
	// marker даже если flight принадлежит другому процессу.
	d.Settle(ctx, payload.TaskID, payload.Fingerprint)
	return nil
}
