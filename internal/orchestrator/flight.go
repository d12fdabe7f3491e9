package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/registry"
)

// defaultWaitPoll — интервал опроса реестра в Handle.Wait.
const defaultWaitPoll = time.Second

// flight — выполнение, зарегистрированное этим процессом для fingerprint'а.
//
// done закрывается при settlement; все Handle на этот flight ждут на нём.
type flight struct {
	taskID    uuid.UUID
	fp        domain.Fingerprint
	dedup     bool
	createdAt time.Time

	done chan struct{}
	once sync.Once
}

func newFlight(taskID uuid.UUID, fp domain.Fingerprint, dedup bool, now time.Time) *flight {
	return &flight{
		taskID:    taskID,
		fp:        fp,
		dedup:     dedup,
		createdAt: now,
		done:      make(chan struct{}),
	}
}

func (f *flight) finish() {
	f.once.Do(func() { close(f.done) })
}

// closedCh — уже закрытый канал для задач, рождённых терминальными.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Handle — результат Submit.
type Handle struct {
	// TaskID — задача, к которой привязан вызывающий.
	TaskID uuid.UUID

	// Fingerprint — fingerprint задачи.
	Fingerprint domain.Fingerprint

	// Deduplicated — вызывающий присоединился к уже идущему выполнению.
	Deduplicated bool

	// Cached — задача создана из кэша и сразу SUCCEEDED.
	Cached bool

	// done — nil, если выполнением владеет другой процесс.
	done     <-chan struct{}
	registry registry.Registry
	poll     time.Duration
	onFinal  func(ctx context.Context, t *domain.Task)
}

// Wait блокируется до терминального статуса задачи или отмены ctx.
//
// Для локального flight'а ждёт settlement, для чужого (другой процесс)
// опрашивает реестр. В обоих случаях реестр опрашивается периодически,
// поэтому потерянное уведомление о завершении не блокирует ожидание навсегда.
func (h *Handle) Wait(ctx context.Context) (*domain.Task, error) {
	poll := h.poll
	if poll <= 0 {
		poll = defaultWaitPoll
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	done := h.done

	for {
		task, err := h.registry.Get(ctx, h.TaskID)
		if err != nil {
			return nil, err
		}
		if task.IsFinished() {
			if h.onFinal != nil {
				h.onFinal(ctx, task)
			}
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			// Settlement произошёл: следующая итерация прочитает терминальный snapshot.
			// Канал закрыт навсегда, дальше ждём только ticker.
			done = nil
		case <-ticker.C:
		}
	}
}
