package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/prreview/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskReady     MessageType = "task.ready"
	MessageTypeTaskCompleted MessageType = "task.completed"
	MessageTypeTaskCancel    MessageType = "task.cancel"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// TaskReadyPayload — задача готова к выполнению.
type TaskReadyPayload struct {
	Job domain.Job `json:"job"`
}

// TaskCompletedPayload — задача перешла в терминальный статус.
type TaskCompletedPayload struct {
	TaskID      uuid.UUID          `json:"task_id"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Status      domain.TaskStatus  `json:"status"` // SUCCEEDED или FAILED
	ErrorKind   domain.ErrorKind   `json:"error_kind,omitempty"`
	Attempt     int                `json:"attempt"`
}

// CompletedPayloadFor собирает TaskCompletedPayload из snapshot'а задачи.
func CompletedPayloadFor(task *domain.Task) TaskCompletedPayload {
	p := TaskCompletedPayload{
		TaskID:      task.ID,
		Fingerprint: task.Fingerprint,
		Status:      task.Status,
		Attempt:     task.Attempt,
	}
	if task.Error != nil {
		p.ErrorKind = task.Error.Kind
	}
	return p
}

// TaskCancelPayload — запрос на отмену выполняющейся задачи.
type TaskCancelPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTaskReady публикует задачу в очередь tasks.ready.
// Потребитель: Worker.
func (p *Publisher) PublishTaskReady(ctx context.Context, job domain.Job) error {
	// Prefetched не сериализуется: воркер получит содержимое PR сам.
	return p.Publish(ctx, ExchangeTasks, RoutingKeyReady,
		NewMessage(MessageTypeTaskReady, TaskReadyPayload{Job: job}))
}

// PublishTaskCompleted рассылает событие о завершённой задаче.
// Потребитель: Dispatcher каждого процесса API.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	return p.Publish(ctx, ExchangeEvents, "",
		NewMessage(MessageTypeTaskCompleted, payload))
}

// PublishTaskCancel рассылает запрос на отмену.
// Потребитель: Worker, у которого задача выполняется.
func (p *Publisher) PublishTaskCancel(ctx context.Context, taskID uuid.UUID) error {
	return p.Publish(ctx, ExchangeEvents, "",
		NewMessage(MessageTypeTaskCancel, TaskCancelPayload{TaskID: taskID}))
}
