// Package registry хранит задачи анализа и их жизненный цикл.
//
// Registry — единственный источник правды о статусе задачи. Чтение никогда
// не блокируется выполнением: Get возвращает последний зафиксированный snapshot.
// Удаление задач происходит только по TTL (Purge из janitor), ядро задачи не удаляет.
//
// Реализации:
//   - Memory — in-process
//   - repo.TaskRepo — PostgreSQL, переживает рестарт процесса
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/domain"
)

// Ошибки реестра.
var (
	// ErrNotFound — задача не существует или истёк её TTL.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyExists — задача с таким ID уже создана.
	ErrAlreadyExists = errors.New("task already exists")
)

// DefaultTTL — время жизни завершённой задачи в реестре.
const DefaultTTL = 24 * time.Hour

// UpdateFunc изменяет задачу внутри атомарного read-modify-write.
// Ошибка из UpdateFunc отменяет изменение и возвращается из Update как есть.
type UpdateFunc func(t *domain.Task) error

// Registry — хранилище задач.
type Registry interface {
	// Create сохраняет новую задачу. Для терминальной задачи выставляет ExpiresAt.
	Create(ctx context.Context, t *domain.Task) error

	// Get возвращает snapshot задачи или ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update атомарно применяет fn и возвращает новый snapshot.
	// При переходе в терминальный статус выставляет ExpiresAt.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Task, error)

	// ListActive возвращает нетерминальные задачи в порядке создания.
	ListActive(ctx context.Context, limit int) ([]*domain.Task, error)

	// ListStale возвращает RUNNING задачи, стартовавшие раньше startedBefore.
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Task, error)

	// Purge удаляет задачи с истёкшим TTL и возвращает их количество.
	Purge(ctx context.Context) (int, error)
}
