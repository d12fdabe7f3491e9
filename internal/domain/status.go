package domain

// TaskStatus — статус задачи анализа PR.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	        ↘         ↘ FAILED
//	          FAILED (только отмена до старта или осиротевшая задача)
//
// SUCCEEDED и FAILED — терминальные, из них переходов нет.
type TaskStatus string

const (
	// TaskStatusPending — задача создана, backend её ещё не взял.
	// При загруженном пуле может наблюдаться сколь угодно долго — это не ошибка.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — backend выполняет fetch/analyze.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — анализ завершён, Result заполнен.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — задача завершилась ошибкой (после всех retry), Error заполнен.
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет, разрешён ли переход s → next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusSucceeded || next == TaskStatusFailed
	default:
		return false
	}
}

// String возвращает строковое представление TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}
