package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fingerprint — детерминированный хэш конкретного состояния PR.
//
// Вычисляется пакетом fingerprint; здесь только тип, чтобы Task мог на него ссылаться.
type Fingerprint string

// String возвращает hex-представление.
func (f Fingerprint) String() string { return string(f) }

// Short возвращает первые 12 символов (для логов).
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// IsZero проверяет, что fingerprint не вычислен.
func (f Fingerprint) IsZero() bool { return f == "" }

// Task — отслеживаемая единица работы: анализ одного состояния PR.
//
// Task создаётся Dispatcher'ом при Submit, изменяется только Execution Backend'ом
// (ровно один терминальный переход) и удаляется только по TTL реестра.
type Task struct {
	// ID — идентификатор задачи, непрозрачный для клиента.
	ID uuid.UUID `json:"id"`

	// Fingerprint — состояние PR, которое анализирует задача.
	// Пустой, если задача упала ещё до вычисления fingerprint (например, PR не найден).
	Fingerprint Fingerprint `json:"fingerprint,omitempty"`

	// Repo — каноническое имя репозитория (owner/name).
	Repo string `json:"repo"`

	// PRNumber — номер PR.
	PRNumber int `json:"pr_number"`

	// HeadSHA — head commit, на котором вычислен fingerprint (если известен).
	HeadSHA string `json:"head_sha,omitempty"`

	// Marker — content marker fingerprint'а; нужен, чтобы восстановить Job после рестарта.
	Marker string `json:"marker,omitempty"`

	// Forced — задача создана с force (чтение кэша пропущено).
	Forced bool `json:"forced,omitempty"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Attempt — количество попыток выполнения backend'ом.
	Attempt int `json:"attempt"`

	// Result — отчёт анализа. Только для SUCCEEDED.
	Result *Report `json:"result,omitempty"`

	// ResultRef — ссылка на архивную копию отчёта (например, "s3://bucket/reports/...").
	ResultRef string `json:"result_ref,omitempty"`

	// Error — причина неудачи. Только для FAILED.
	Error *TaskError `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// SettledAt — время терминального перехода.
	SettledAt *time.Time `json:"settled_at,omitempty"`

	// ExpiresAt — после этого момента реестр считает задачу удалённой.
	// Nil для нетерминальных задач.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewTask создаёт задачу в статусе PENDING.
func NewTask(fp Fingerprint, repo string, number int, headSHA string, now time.Time) *Task {
	return &Task{
		ID:          uuid.New(),
		Fingerprint: fp,
		Repo:        repo,
		PRNumber:    number,
		HeadSHA:     headSHA,
		Status:      TaskStatusPending,
		CreatedAt:   now,
	}
}

// NewCachedTask создаёт задачу, которая рождается SUCCEEDED с отчётом из кэша.
// Backend для неё не вызывается.
func NewCachedTask(fp Fingerprint, repo string, number int, report *Report, now time.Time) *Task {
	t := NewTask(fp, repo, number, report.HeadSHA, now)
	t.Status = TaskStatusSucceeded
	t.Result = report
	t.SettledAt = &now
	return t
}

// NewFailedTask создаёт задачу, которая рождается FAILED.
// Используется, когда ошибка случилась до постановки в очередь (например, PR не найден).
func NewFailedTask(repo string, number int, taskErr *TaskError, now time.Time) *Task {
	t := NewTask("", repo, number, "", now)
	t.Status = TaskStatusFailed
	t.Error = taskErr
	t.SettledAt = &now
	return t
}

// IsFinished возвращает true, если задача в терминальном статусе.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.SettledAt == nil {
		return 0
	}
	return t.SettledAt.Sub(*t.StartedAt)
}

// IsExpired проверяет, истёк ли TTL задачи.
func (t *Task) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// MarkRunning переводит задачу PENDING → RUNNING.
func (t *Task) MarkRunning(now time.Time) error {
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}
	t.StartedAt = &now
	t.Attempt++
	return nil
}

// MarkSucceeded переводит задачу RUNNING → SUCCEEDED с отчётом.
func (t *Task) MarkSucceeded(report *Report, resultRef string, now time.Time) error {
	if err := t.transition(TaskStatusSucceeded); err != nil {
		return err
	}
	t.Result = report
	t.ResultRef = resultRef
	t.SettledAt = &now
	return nil
}

// MarkFailed переводит задачу в FAILED.
func (t *Task) MarkFailed(taskErr *TaskError, now time.Time) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	if taskErr == nil {
		taskErr = NewInternalError("unknown failure")
	}
	t.Error = taskErr
	t.SettledAt = &now
	return nil
}

// MarkCancelled отменяет задачу, которая ещё не стартовала.
func (t *Task) MarkCancelled(reason string, now time.Time) error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, t.Status)
	}
	return t.MarkFailed(NewCancelledError(reason), now)
}

// SetTTL выставляет ExpiresAt для терминальной задачи.
func (t *Task) SetTTL(ttl time.Duration) {
	if !t.IsFinished() || t.SettledAt == nil || ttl <= 0 {
		return
	}
	exp := t.SettledAt.Add(ttl)
	t.ExpiresAt = &exp
}

// Clone возвращает глубокую копию (snapshot для читателей).
func (t *Task) Clone() *Task {
	c := *t
	if t.Result != nil {
		c.Result = t.Result.Clone()
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.SettledAt = cloneTime(t.SettledAt)
	c.ExpiresAt = cloneTime(t.ExpiresAt)
	return &c
}

func (t *Task) transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	return nil
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
