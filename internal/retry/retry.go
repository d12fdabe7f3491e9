// Package retry — ограниченный цикл повторов с backoff.
//
// Повторяются только ошибки, которые domain.IsRetryable считает временными
// (rate limit, недоступность, таймаут). Количество попыток всегда ограничено
// Policy.MaxAttempts; задержка между попытками идёт через Sleeper, чтобы тесты
// не зависели от реального времени.
package retry

import (
	"context"
	"time"

	"github.com/shaiso/prreview/internal/domain"
)

// Стратегии backoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Значения по умолчанию.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Policy — параметры retry.
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Backoff      string        `yaml:"backoff"` // fixed | exponential
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки, exponential 1s..30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Backoff:      BackoffExponential,
	}
}

// Attempts возвращает эффективное количество попыток (минимум 1).
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay вычисляет задержку перед попыткой attempt+1, где attempt — номер
// только что неудавшейся попытки (начиная с 1).
//
//   - "exponential": initialDelay * 2^(attempt-1), не больше maxDelay
//   - "fixed" или неизвестный: initialDelay
func (p Policy) Delay(attempt int) time.Duration {
	initialDelay := p.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	delay := initialDelay
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	return min(delay, maxDelay)
}

// Budget — худшее время цикла Do, если каждая попытка упирается в perAttempt:
// все попытки плюс все задержки между ними.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	attempts := p.Attempts()
	total := time.Duration(attempts) * perAttempt
	for attempt := 1; attempt < attempts; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// Sleeper ожидает d или отмену ctx.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext — Sleeper по умолчанию.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRetry вызывается перед каждой задержкой (для логирования и метрик).
type OnRetry func(attempt int, delay time.Duration, err error)

// Do выполняет fn до успеха, неповторяемой ошибки или исчерпания попыток.
//
// fn получает номер попытки (с 1). Возвращает последнюю ошибку.
// Отмена ctx во время ожидания возвращает ошибку ctx.
func Do(ctx context.Context, p Policy, sleep Sleeper, onRetry OnRetry, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = SleepContext
	}

	attempts := p.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts || !domain.IsRetryable(lastErr) || ctx.Err() != nil {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}
