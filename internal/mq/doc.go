// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, подписка на переподключение)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений и типы payload'ов
//   - consumer.go   — потребление сообщений с ack/nack
//
// Типы сообщений:
//   - task.ready      — задача готова к выполнению (prreview.tasks → tasks.ready)
//   - task.completed  — задача завершена (prreview.events, всем процессам)
//   - task.cancel     — отмена выполняющейся задачи (prreview.events, всем процессам)
package mq
