// Package telemetry собирает логгер и метрики сервиса ревью.
//
// NewLogger настраивает slog по уровню и формату из конфига.
// Metrics регистрирует счётчики отправок, завершённых задач, попаданий
// в кэш и внешних вызовов; api и worker публикуют их на /metrics.
package telemetry
