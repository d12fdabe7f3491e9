package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
)

// Memory — in-memory реализация Cache.
type Memory struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[domain.Fingerprint]Entry
}

// NewMemory создаёт пустой Memory. c == nil — системные часы.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		clock:   clock.OrSystem(c),
		entries: make(map[domain.Fingerprint]Entry),
	}
}

// Get возвращает копию отчёта, чтобы читатели не могли изменить кэш.
func (m *Memory) Get(_ context.Context, fp domain.Fingerprint) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[fp]
	m.mu.RUnlock()

	if !ok || e.IsExpired(m.clock.Now()) {
		return Entry{}, false, nil
	}

	e.Report = e.Report.Clone()
	return e, true, nil
}

// Put записывает копию отчёта.
func (m *Memory) Put(_ context.Context, fp domain.Fingerprint, report *domain.Report, ttl time.Duration) error {
	now := m.clock.Now()

	m.mu.Lock()
	m.entries[fp] = Entry{
		Fingerprint: fp,
		Report:      report.Clone(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	m.mu.Unlock()

	return nil
}

// Delete удаляет запись.
func (m *Memory) Delete(_ context.Context, fp domain.Fingerprint) error {
	m.mu.Lock()
	delete(m.entries, fp)
	m.mu.Unlock()
	return nil
}

// Purge удаляет истёкшие записи.
func (m *Memory) Purge(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for fp, e := range m.entries {
		if e.IsExpired(now) {
			delete(m.entries, fp)
			n++
		}
	}
	return n, nil
}

// Len возвращает количество записей, включая истёкшие.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
