package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
)

// CacheRepo — cache.Cache поверх PostgreSQL, общий для всех процессов.
type CacheRepo struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

var _ cache.Cache = (*CacheRepo)(nil)

// NewCacheRepo создаёт новый CacheRepo.
func NewCacheRepo(pool *pgxpool.Pool, c clock.Clock) *CacheRepo {
	return &CacheRepo{pool: pool, clock: clock.OrSystem(c)}
}

// Get возвращает непросроченную запись.
func (r *CacheRepo) Get(ctx context.Context, fp domain.Fingerprint) (cache.Entry, bool, error) {
	var entry cache.Entry
	var reportJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT fingerprint, report, created_at, expires_at
		FROM review_cache
		WHERE fingerprint = $1 AND expires_at > $2
	`, fp, r.clock.Now()).Scan(&entry.Fingerprint, &reportJSON, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	if err := json.Unmarshal(reportJSON, &entry.Report); err != nil {
		return cache.Entry{}, false, fmt.Errorf("unmarshal report: %w", err)
	}
	return entry, true, nil
}

// Put записывает отчёт; существующая запись перезаписывается.
func (r *CacheRepo) Put(ctx context.Context, fp domain.Fingerprint, report *domain.Report, ttl time.Duration) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	now := r.clock.Now()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO review_cache (fingerprint, report, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE
		SET report = EXCLUDED.report, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, fp, reportJSON, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete удаляет запись.
func (r *CacheRepo) Delete(ctx context.Context, fp domain.Fingerprint) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM review_cache WHERE fingerprint = $1`, fp); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Purge удаляет истёкшие записи.
func (r *CacheRepo) Purge(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM review_cache WHERE expires_at <= $1`, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
