package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks  Exchange = "prreview.tasks"
	ExchangeEvents Exchange = "prreview.events"
	ExchangeDLQ    Exchange = "prreview.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksReady Queue = "tasks.ready"
	QueueDLQTasks   Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyReady    RoutingKey = "ready"
	RoutingKeyDLQTasks RoutingKey = "tasks"
)

// SetupTopology объявляет durable часть топологии: exchanges, очередь задач и DLQ.
//
// Очереди событий объявляет каждый процесс сам (DeclareEventsQueue):
// они эксклюзивные и живут, пока жив consumer.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, amqp.ExchangeDirect},
		// events — fanout: task.completed и task.cancel нужны всем процессам
		{ExchangeEvents, amqp.ExchangeFanout},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// tasks.ready — с DLQ (нераспознанные сообщения)
		{QueueTasksReady, dlqArgs},
		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTasksReady, RoutingKeyReady, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// DeclareTasksQueue — Declare-хук для consumer'а воркера: пассивно проверяет tasks.ready.
func DeclareTasksQueue(ch *amqp.Channel) (string, bool, error) {
	if _, err := ch.QueueDeclarePassive(string(QueueTasksReady), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}); err != nil {
		return "", false, fmt.Errorf("queue %s: %w", QueueTasksReady, err)
	}
	return string(QueueTasksReady), false, nil
}

// DeclareEventsQueue — Declare-хук для consumer'а событий.
//
// Создаёт эксклюзивную auto-delete очередь с именем от сервера и привязывает её
// к fanout exchange prreview.events. Вызывается заново при каждом переподключении.
func DeclareEventsQueue(ch *amqp.Channel) (string, bool, error) {
	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", false, fmt.Errorf("declare events queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", string(ExchangeEvents), false, nil); err != nil {
		return "", false, fmt.Errorf("bind events queue: %w", err)
	}

	return q.Name, true, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  prreview RabbitMQ Topology:

    prreview.tasks (direct)
    └── tasks.ready [routing: ready]
            Consumer: prreview-worker
            DLQ: dlq.tasks

    prreview.events (fanout)
    └── <exclusive queue per process>
            task.completed  Consumer: prreview-api (settle flights)
            task.cancel     Consumer: prreview-worker (cancel running tasks)

    prreview.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
