package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newPending(now time.Time) *domain.Task {
	return domain.NewTask("fp", "octo/repo", 6, "abc", now)
}

func TestMemory_GetUnknown(t *testing.T) {
	r := NewMemory(nil, time.Hour)

	_, err := r.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(clock.NewFake(t0), time.Hour)

	task := newPending(t0)
	if err := r.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if got.ExpiresAt != nil {
		t.Error("pending task must not expire")
	}

	if err := r.Create(ctx, task); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemory_UpdateLifecycleAndTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	r := NewMemory(clk, time.Hour)

	task := newPending(t0)
	r.Create(ctx, task)

	clk.Advance(time.Second)
	if _, err := r.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.MarkRunning(clk.Now())
	}); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	clk.Advance(time.Second)
	settled, err := r.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.MarkSucceeded(&domain.Report{Summary: "ok"}, "", clk.Now())
	})
	if err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if settled.ExpiresAt == nil || !settled.ExpiresAt.Equal(clk.Now().Add(time.Hour)) {
		t.Fatalf("expected expires_at = settled_at + ttl, got %v", settled.ExpiresAt)
	}

	// Терминальный статус окончателен.
	_, err = r.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.MarkFailed(domain.NewInternalError("late"), clk.Now())
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := r.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusSucceeded || got.Result == nil {
		t.Errorf("failed update must not change the task, got %s", got.Status)
	}

	clk.Advance(time.Hour)
	if _, err := r.Get(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after ttl, got %v", err)
	}

	n, _ := r.Purge(ctx)
	if n != 1 || r.Len() != 0 {
		t.Errorf("expected purge of 1 task, got n=%d len=%d", n, r.Len())
	}
}

func TestMemory_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil, time.Hour)

	task := newPending(t0)
	r.Create(ctx, task)
	task.Status = domain.TaskStatusFailed

	got, _ := r.Get(ctx, task.ID)
	got.Status = domain.TaskStatusSucceeded

	again, _ := r.Get(ctx, task.ID)
	if again.Status != domain.TaskStatusPending {
		t.Errorf("stored task leaked mutation: %s", again.Status)
	}
}

func TestMemory_ListActiveAndStale(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	r := NewMemory(clk, time.Hour)

	pending := newPending(t0)
	running := newPending(t0.Add(time.Second))
	done := domain.NewCachedTask("fp2", "octo/repo", 7, &domain.Report{}, t0)
	for _, task := range []*domain.Task{pending, running, done} {
		r.Create(ctx, task)
	}
	r.Update(ctx, running.ID, func(t *domain.Task) error { return t.MarkRunning(t0) })

	active, _ := r.ListActive(ctx, 0)
	if len(active) != 2 {
		t.Fatalf("expected 2 active tasks, got %d", len(active))
	}
	if active[0].ID != pending.ID {
		t.Error("expected active tasks ordered by creation")
	}

	stale, _ := r.ListStale(ctx, t0.Add(time.Minute), 0)
	if len(stale) != 1 || stale[0].ID != running.ID {
		t.Errorf("expected running task to be stale, got %v", stale)
	}
	if stale, _ := r.ListStale(ctx, t0, 0); len(stale) != 0 {
		t.Errorf("expected no stale tasks, got %d", len(stale))
	}

	limited, _ := r.ListActive(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemory_ConcurrentReadersDuringUpdates(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil, time.Hour)

	task := newPending(t0)
	r.Create(ctx, task)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := r.Get(ctx, task.ID)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if !got.Status.IsValid() {
					t.Errorf("observed invalid status %q", got.Status)
					return
				}
			}
		}()
	}

	r.Update(ctx, task.ID, func(t *domain.Task) error { return t.MarkRunning(t0) })
	r.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.MarkFailed(domain.NewTimeoutError("deadline"), t0)
	})

	wg.Wait()
}
