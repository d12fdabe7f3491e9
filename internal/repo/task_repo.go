package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

const taskColumns = `
	id, fingerprint, repo, pr_number, head_sha, marker, forced, status, attempt,
	result, result_ref, error, created_at, started_at, settled_at, expires_at`

// TaskRepo — registry.Registry поверх PostgreSQL.
type TaskRepo struct {
	pool  *pgxpool.Pool
	clock clock.Clock
	ttl   time.Duration
}

var _ registry.Registry = (*TaskRepo)(nil)

// NewTaskRepo создаёт новый TaskRepo.
// ttl <= 0 — registry.DefaultTTL.
func NewTaskRepo(pool *pgxpool.Pool, c clock.Clock, ttl time.Duration) *TaskRepo {
	if ttl <= 0 {
		ttl = registry.DefaultTTL
	}
	return &TaskRepo{pool: pool, clock: clock.OrSystem(c), ttl: ttl}
}

// Create создаёт новую задачу.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	task.SetTTL(r.ttl)

	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	query := `INSERT INTO review_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, task.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get возвращает задачу по ID.
func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM review_tasks WHERE id = $1`

	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if task.IsExpired(r.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return task, nil
}

// Update выполняет read-modify-write под SELECT ... FOR UPDATE.
func (r *TaskRepo) Update(ctx context.Context, id uuid.UUID, fn registry.UpdateFunc) (*domain.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + taskColumns + ` FROM review_tasks WHERE id = $1 FOR UPDATE`
	task, err := scanTask(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if task.IsExpired(r.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := fn(task); err != nil {
		return nil, err
	}
	task.SetTTL(r.ttl)

	result, err := marshalNullable(task.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	taskErr, err := marshalNullable(task.Error)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE review_tasks
		SET status = $2, attempt = $3, result = $4, result_ref = $5, error = $6,
		    started_at = $7, settled_at = $8, expires_at = $9
		WHERE id = $1
	`,
		task.ID,
		task.Status,
		task.Attempt,
		result,
		nullString(task.ResultRef),
		taskErr,
		task.StartedAt,
		task.SettledAt,
		task.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return task, nil
}

// ListActive возвращает PENDING и RUNNING задачи в порядке создания.
func (r *TaskRepo) ListActive(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM review_tasks
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1`
	return r.list(ctx, query, limitOrAll(limit))
}

// ListStale возвращает RUNNING задачи, стартовавшие раньше startedBefore.
func (r *TaskRepo) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM review_tasks
		WHERE status = 'RUNNING' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`
	return r.list(ctx, query, startedBefore, limitOrAll(limit))
}

// Purge удаляет задачи с истёкшим TTL.
func (r *TaskRepo) Purge(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM review_tasks WHERE expires_at <= $1`, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Helpers ---

func taskArgs(task *domain.Task) ([]any, error) {
	result, err := marshalNullable(task.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	taskErr, err := marshalNullable(task.Error)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}

	return []any{
		task.ID,
		task.Fingerprint,
		task.Repo,
		task.PRNumber,
		task.HeadSHA,
		task.Marker,
		task.Forced,
		task.Status,
		task.Attempt,
		result,
		nullString(task.ResultRef),
		taskErr,
		task.CreatedAt,
		task.StartedAt,
		task.SettledAt,
		task.ExpiresAt,
	}, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var resultJSON, errorJSON []byte
	var resultRef *string

	err := row.Scan(
		&task.ID,
		&task.Fingerprint,
		&task.Repo,
		&task.PRNumber,
		&task.HeadSHA,
		&task.Marker,
		&task.Forced,
		&task.Status,
		&task.Attempt,
		&resultJSON,
		&resultRef,
		&errorJSON,
		&task.CreatedAt,
		&task.StartedAt,
		&task.SettledAt,
		&task.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if resultRef != nil {
		task.ResultRef = *resultRef
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &task.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return &task, nil
}

// marshalNullable возвращает nil для nil-указателя (NULL в БД).
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// limitOrAll переводит limit <= 0 в NULL (LIMIT ALL).
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
