package repo

import (
	"errors"

	"github.com/shaiso/prreview/internal/registry"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД (тот же sentinel, что у реестра).
	ErrNotFound = registry.ErrNotFound

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = registry.ErrAlreadyExists

	// ErrContention — marker не удалось ни захватить, ни прочитать за несколько попыток.
	ErrContention = errors.New("inflight marker contention")
)
