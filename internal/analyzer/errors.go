package analyzer

import "errors"

// Ошибки конфигурации анализатора.
var (
	// ErrUnknownProvider — провайдер не поддерживается.
	ErrUnknownProvider = errors.New("unknown analyzer provider")

	// ErrNotConfigured — провайдеру не хватает настроек.
	ErrNotConfigured = errors.New("analyzer not configured")
)
