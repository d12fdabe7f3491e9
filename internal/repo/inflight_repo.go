package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/orchestrator"
)

const claimAttempts = 3

// InflightRepo — in-flight marker'ы в PostgreSQL (lease с истечением).
//
// Несколько процессов API с общей базой видят один marker на fingerprint,
// поэтому дубликаты схлопываются и между процессами.
type InflightRepo struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

var _ orchestrator.InflightStore = (*InflightRepo)(nil)

// NewInflightRepo создаёт новый InflightRepo.
func NewInflightRepo(pool *pgxpool.Pool, c clock.Clock) *InflightRepo {
	return &InflightRepo{pool: pool, clock: clock.OrSystem(c)}
}

// Claim захватывает marker, если он свободен, истёк или уже принадлежит taskID.
func (r *InflightRepo) Claim(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID, ttl time.Duration) (uuid.UUID, bool, error) {
	for i := 0; i < claimAttempts; i++ {
		now := r.clock.Now()

		var holder uuid.UUID
		err := r.pool.QueryRow(ctx, `
			INSERT INTO review_inflight (fingerprint, task_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (fingerprint) DO UPDATE
			SET task_id = EXCLUDED.task_id, expires_at = EXCLUDED.expires_at
			WHERE review_inflight.expires_at <= $4 OR review_inflight.task_id = EXCLUDED.task_id
			RETURNING task_id
		`, fp, taskID, now.Add(ttl), now).Scan(&holder)
		if err == nil {
			return holder, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, fmt.Errorf("claim marker: %w", err)
		}

		// Marker держит другая задача; между запросами его могли снять.
		err = r.pool.QueryRow(ctx,
			`SELECT task_id FROM review_inflight WHERE fingerprint = $1`, fp,
		).Scan(&holder)
		if err == nil {
			return holder, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, fmt.Errorf("read marker: %w", err)
		}
	}
	return uuid.Nil, false, fmt.Errorf("%w: %s", ErrContention, fp.Short())
}

// Release снимает marker, если им владеет taskID.
func (r *InflightRepo) Release(ctx context.Context, fp domain.Fingerprint, taskID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM review_inflight WHERE fingerprint = $1 AND task_id = $2`, fp, taskID,
	)
	if err != nil {
		return fmt.Errorf("release marker: %w", err)
	}
	return nil
}

// PurgeExpired удаляет истёкшие marker'ы.
func (r *InflightRepo) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM review_inflight WHERE expires_at <= $1`, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge markers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
