package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/telemetry"
)

type recordingSettler struct {
	mu      sync.Mutex
	aborted []uuid.UUID
	settled []uuid.UUID
}

func (s *recordingSettler) Abort(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, taskID)
	return nil
}

func (s *recordingSettler) Settle(_ context.Context, taskID uuid.UUID, _ domain.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, taskID)
}

type fakeLocker struct {
	ok    bool
	err   error
	tries int
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) {
	l.tries++
	return l.ok, l.err
}

func (l *fakeLocker) Unlock(context.Context) error { return nil }

type countingPurger struct{ n int }

func (p *countingPurger) PurgeExpired(context.Context) (int, error) { return p.n, nil }

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 5m", false},
		{"*/5 * * * *", false},
		{"0 3 * * 1", false},
		{"@hourly", false},
		{"", true},
		{"every five minutes", true},
		{"* * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestJanitor_Tick(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.NewMemory(fake, time.Hour)
	c := cache.NewMemory(fake)
	settler := &recordingSettler{}

	// Завершённая давно задача — будет удалена по TTL.
	old := domain.NewTask("fp-old", "octo/repo", 1, "a", fake.Now())
	reg.Create(ctx, old)
	reg.Update(ctx, old.ID, func(t *domain.Task) error { return t.MarkRunning(fake.Now()) })
	reg.Update(ctx, old.ID, func(t *domain.Task) error {
		return t.MarkSucceeded(&domain.Report{Summary: "ok"}, "", fake.Now())
	})
	c.Put(ctx, "fp-old", &domain.Report{Summary: "ok"}, time.Hour)

	// Зависшая RUNNING задача.
	stuck := domain.NewTask("fp-stuck", "octo/repo", 2, "b", fake.Now())
	reg.Create(ctx, stuck)
	reg.Update(ctx, stuck.ID, func(t *domain.Task) error { return t.MarkRunning(fake.Now()) })

	fake.Advance(2 * time.Hour)

	// Свежая RUNNING задача — не трогаем.
	fresh := domain.NewTask("fp-fresh", "octo/repo", 3, "c", fake.Now())
	reg.Create(ctx, fresh)
	reg.Update(ctx, fresh.ID, func(t *domain.Task) error { return t.MarkRunning(fake.Now()) })

	j := New(Config{
		Registry:   reg,
		Cache:      c,
		Markers:    &countingPurger{n: 2},
		Settler:    settler,
		StaleAfter: 30 * time.Minute,
		Clock:      fake,
		Logger:     telemetry.Discard(),
	})

	rep := j.Tick(ctx)

	want := Report{PurgedTasks: 1, PurgedCache: 1, PurgedMarkers: 2, Reaped: 1}
	if rep != want {
		t.Errorf("expected %+v, got %+v", want, rep)
	}

	if _, err := reg.Get(ctx, old.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected expired task to be gone, got %v", err)
	}

	got, _ := reg.Get(ctx, stuck.ID)
	if got.Status != domain.TaskStatusFailed || got.Error.Kind != domain.ErrorKindTimeout {
		t.Errorf("expected stuck task FAILED(TIMEOUT), got %s %+v", got.Status, got.Error)
	}
	if len(settler.aborted) != 1 || settler.aborted[0] != stuck.ID {
		t.Errorf("expected stuck task aborted, got %v", settler.aborted)
	}
	if len(settler.settled) != 1 || settler.settled[0] != stuck.ID {
		t.Errorf("expected stuck task settled, got %v", settler.settled)
	}

	got, _ = reg.Get(ctx, fresh.ID)
	if got.Status != domain.TaskStatusRunning {
		t.Errorf("fresh task must stay RUNNING, got %s", got.Status)
	}
}

func TestJanitor_SkipsWithoutLeadership(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Now())
	reg := registry.NewMemory(fake, time.Minute)

	task := domain.NewTask("fp", "octo/repo", 1, "a", fake.Now())
	reg.Create(ctx, task)
	reg.Update(ctx, task.ID, func(t *domain.Task) error { return t.MarkRunning(fake.Now()) })
	fake.Advance(time.Hour)

	locker := &fakeLocker{ok: false}
	j := New(Config{
		Registry:   reg,
		Locker:     locker,
		StaleAfter: time.Minute,
		Clock:      fake,
		Logger:     telemetry.Discard(),
	})

	j.run(ctx)
	if locker.tries != 1 {
		t.Errorf("expected one lock attempt, got %d", locker.tries)
	}
	got, _ := reg.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusRunning {
		t.Error("non-leader must not reap")
	}

	locker.ok = true
	j.run(ctx)
	got, _ = reg.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Error("leader must reap")
	}
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	j := New(Config{
		Registry: registry.NewMemory(nil, 0),
		Schedule: "not a schedule",
		Logger:   telemetry.Discard(),
	})
	if err := j.Start(context.Background()); err == nil {
		t.Error("expected error for malformed schedule")
	}
	j.Stop()
}
