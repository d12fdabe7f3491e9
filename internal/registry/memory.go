package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
)

// Memory — in-memory реализация Registry.
//
// Задачи хранятся по указателю, наружу отдаются только копии (Clone),
// поэтому читатели не видят промежуточных состояний Update.
type Memory struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// NewMemory создаёт пустой Memory.
// ttl <= 0 — DefaultTTL, c == nil — системные часы.
func NewMemory(c clock.Clock, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		clock: clock.OrSystem(c),
		ttl:   ttl,
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Create сохраняет копию задачи.
func (m *Memory) Create(_ context.Context, t *domain.Task) error {
	stored := t.Clone()
	stored.SetTTL(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[stored.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, stored.ID)
	}
	m.tasks[stored.ID] = stored

	// Вызывающий видит выставленный ExpiresAt.
	t.ExpiresAt = stored.ExpiresAt
	return nil
}

// Get возвращает snapshot задачи.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()

	if !ok || t.IsExpired(m.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// Update применяет fn к рабочей копии и фиксирует её только при успехе.
func (m *Memory) Update(_ context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.tasks[id]
	if !ok || current.IsExpired(m.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.SetTTL(m.ttl)

	m.tasks[id] = working
	return working.Clone(), nil
}

// ListActive возвращает PENDING и RUNNING задачи.
func (m *Memory) ListActive(_ context.Context, limit int) ([]*domain.Task, error) {
	return m.list(limit, func(t *domain.Task) bool {
		return !t.IsFinished()
	}), nil
}

// ListStale возвращает зависшие RUNNING задачи.
func (m *Memory) ListStale(_ context.Context, startedBefore time.Time, limit int) ([]*domain.Task, error) {
	return m.list(limit, func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusRunning &&
			t.StartedAt != nil && t.StartedAt.Before(startedBefore)
	}), nil
}

// Purge удаляет истёкшие задачи.
func (m *Memory) Purge(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tasks {
		if t.IsExpired(now) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

// Len возвращает количество хранимых задач, включая истёкшие.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func (m *Memory) list(limit int, match func(*domain.Task) bool) []*domain.Task {
	m.mu.RLock()
	var result []*domain.Task
	for _, t := range m.tasks {
		if match(t) {
			result = append(result, t.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
