// Package cache хранит готовые отчёты по fingerprint.
//
// Cache — логически истекающее key-value хранилище: запись после ExpiresAt
// читается как промах, независимо от того, удалена ли она физически.
// Физическое удаление выполняет janitor через Purge.
//
// Реализации:
//   - Memory — in-process, для тестов и одиночного процесса
//   - repo.CacheRepo — PostgreSQL, общий для нескольких процессов
package cache

import (
	"context"
	"time"

	"github.com/shaiso/prreview/internal/domain"
)

// Entry — запись кэша.
type Entry struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Report      *domain.Report     `json:"report"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// IsExpired проверяет, истекла ли запись к моменту now.
func (e Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache — хранилище отчётов по fingerprint.
type Cache interface {
	// Get возвращает запись. ok == false для отсутствующей или истёкшей записи.
	Get(ctx context.Context, fp domain.Fingerprint) (entry Entry, ok bool, err error)

	// Put записывает отчёт, перезаписывая существующую запись (last writer wins).
	Put(ctx context.Context, fp domain.Fingerprint, report *domain.Report, ttl time.Duration) error

	// Delete удаляет запись. Отсутствие записи — не ошибка.
	Delete(ctx context.Context, fp domain.Fingerprint) error

	// Purge физически удаляет истёкшие записи и возвращает их количество.
	Purge(ctx context.Context) (int, error)
}
