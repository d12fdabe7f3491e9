package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/mq"
)

// Publisher — публикация сообщений задач (mq.Publisher).
type Publisher interface {
	PublishTaskReady(ctx context.Context, job domain.Job) error
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
	PublishTaskCancel(ctx context.Context, taskID uuid.UUID) error
}

// Remote — распределённый Execution Backend: задачи уходят в RabbitMQ,
// выполняют их процессы prreview-worker.
type Remote struct {
	publisher Publisher
}

// NewRemote создаёт Remote.
func NewRemote(publisher Publisher) *Remote {
	return &Remote{publisher: publisher}
}

// Submit реализует orchestrator.Backend: публикует task.ready.
func (r *Remote) Submit(ctx context.Context, _ *domain.Task, job domain.Job) error {
	// Содержимое PR не передаётся по сети: воркер получит его сам.
	job.Prefetched = nil
	if err := r.publisher.PublishTaskReady(ctx, job); err != nil {
		return fmt.Errorf("publish task.ready: %w", err)
	}
	return nil
}

// Cancel реализует orchestrator.Backend: рассылает task.cancel всем воркерам.
func (r *Remote) Cancel(ctx context.Context, taskID uuid.UUID) error {
	if err := r.publisher.PublishTaskCancel(ctx, taskID); err != nil {
		return fmt.Errorf("publish task.cancel: %w", err)
	}
	return nil
}
