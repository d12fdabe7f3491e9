package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — задача не найдена в реестре (истёк TTL или не создавалась).
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotPending — задача уже не PENDING (выполняется или завершена).
	ErrTaskNotPending = errors.New("task is not in PENDING status")

	// ErrPoolStopped — пул остановлен и не принимает задачи.
	ErrPoolStopped = errors.New("worker pool stopped")
)
