package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
)

// DefaultLeaseTTL — время жизни in-flight marker'а, если процесс-владелец
// не освободил его (упал до settlement).
const DefaultLeaseTTL = time.Hour

// InflightStore — атомарный check-and-set для in-flight marker'а.
//
// Marker связывает fingerprint с задачей, которая его сейчас анализирует.
// Локальная карта flights в Dispatcher защищает один процесс; InflightStore
// распространяет гарантию на несколько процессов API с общим хранилищем.
type InflightStore interface {
	// Claim пытается стать владельцем fingerprint'а от имени taskID.
	// Возвращает текущего владельца; claimed == true, если владелец — taskID
	// (в том числе при повторном Claim той же задачи).
	Claim(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID, ttl time.Duration) (holder uuid.UUID, claimed bool, err error)

	// Release снимает marker, только если им владеет taskID.
	Release(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID) error
}

// MemoryInflight — in-process InflightStore.
type MemoryInflight struct {
	clock clock.Clock

	mu      sync.Mutex
	markers map[domain.Fingerprint]lease
}

type lease struct {
	taskID    uuid.UUID
	expiresAt time.Time
}

// NewMemoryInflight создаёт пустой MemoryInflight.
func NewMemoryInflight(c clock.Clock) *MemoryInflight {
	return &MemoryInflight{
		clock:   clock.OrSystem(c),
		markers: make(map[domain.Fingerprint]lease),
	}
}

// Claim реализует InflightStore.
func (m *MemoryInflight) Claim(_ context.Context, fp domain.Fingerprint, taskID uuid.UUID, ttl time.Duration) (uuid.UUID, bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.markers[fp]; ok && now.Before(cur.expiresAt) && cur.taskID != taskID {
		return cur.taskID, false, nil
	}

	m.markers[fp] = lease{taskID: taskID, expiresAt: now.Add(ttl)}
	return taskID, true, nil
}

// Release реализует InflightStore.
func (m *MemoryInflight) Release(_ context.Context, fp domain.Fingerprint, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.markers[fp]; ok && cur.taskID == taskID {
		delete(m.markers, fp)
	}
	return nil
}

// Len возвращает количество marker'ов, включая истёкшие.
func (m *MemoryInflight) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}
