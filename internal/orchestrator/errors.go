package orchestrator

import "errors"

// Ошибки диспетчера.
var (
	// ErrTaskFinished — задача уже в терминальном статусе (отмена невозможна).
	ErrTaskFinished = errors.New("task already finished")

	// ErrDispatcherStopped — диспетчер остановлен.
	ErrDispatcherStopped = errors.New("dispatcher stopped")

	// errCancelRunning — внутренний сигнал Update: задача RUNNING, нужна отмена через backend.
	errCancelRunning = errors.New("task is running")
)
