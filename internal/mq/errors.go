package mq

import (
	"errors"
	"net/url"
)

// ErrNoChannel — соединение с RabbitMQ сейчас недоступно (ожидается reconnect).
var ErrNoChannel = errors.New("no amqp channel available")

// redactURL скрывает пароль в AMQP URL для логов.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://invalid"
	}
	return u.Redacted()
}
