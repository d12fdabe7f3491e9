package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/telemetry"
)

const defaultWorkers = 4

// Pool — in-process Execution Backend.
//
// Submit кладёт задачу в неограниченную FIFO-очередь и никогда не блокируется;
// workers горутин разбирают очередь и выполняют задачи через Runner.
// Cancel прерывает контекст выполняющейся задачи.
type Pool struct {
	runner  *Runner
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []domain.Job
	queued  map[uuid.UUID]bool
	running map[uuid.UUID]context.CancelFunc
	closed  bool

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// PoolConfig — конфигурация Pool.
type PoolConfig struct {
	Runner  *Runner
	Workers int // default: 4

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewPool создаёт Pool.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		runner:  cfg.Runner,
		workers: workers,
		queued:  make(map[uuid.UUID]bool),
		running: make(map[uuid.UUID]context.CancelFunc),
		metrics: cfg.Metrics,
		logger:  logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start запускает горутины пула.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	// Остановка ctx будит ожидающие горутины.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}

	p.logger.Info("worker pool started", "workers", p.workers)
}

// Stop прекращает приём задач, прерывает выполняющиеся и ждёт горутины.
// Задачи, оставшиеся в очереди, остаются PENDING в реестре.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	left := len(p.queue)
	for _, cancel := range p.running {
		cancel()
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.wg.Wait()

	p.logger.Info("worker pool stopped", "queued_left", left)
}

// Submit реализует orchestrator.Backend.
func (p *Pool) Submit(_ context.Context, _ *domain.Task, job domain.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolStopped
	}
	if p.queued[job.TaskID] {
		return nil
	}
	if _, ok := p.running[job.TaskID]; ok {
		return nil
	}

	p.queue = append(p.queue, job)
	p.queued[job.TaskID] = true
	p.metrics.SetQueueDepth(len(p.queue))
	p.cond.Signal()
	return nil
}

// Cancel реализует orchestrator.Backend: прерывает выполняющуюся задачу.
// Для задачи, которой нет в пуле, ничего не делает.
func (p *Pool) Cancel(_ context.Context, taskID uuid.UUID) error {
	p.mu.Lock()
	cancel, ok := p.running[taskID]
	p.mu.Unlock()

	if ok {
		p.logger.Info("cancelling running task", "task_id", taskID)
		cancel()
	}
	return nil
}

// QueueDepth возвращает количество задач в очереди.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// RunningCount возвращает количество выполняющихся задач.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

func (p *Pool) loop(ctx context.Context) {
	for {
		job, jobCtx, ok := p.next(ctx)
		if !ok {
			return
		}
		p.run(jobCtx, job)
	}
}

// next ждёт задачу и регистрирует её cancel func до начала выполнения.
func (p *Pool) next(ctx context.Context) (domain.Job, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return domain.Job{}, nil, false
	}

	job := p.queue[0]
	p.queue[0] = domain.Job{}
	p.queue = p.queue[1:]
	delete(p.queued, job.TaskID)
	p.metrics.SetQueueDepth(len(p.queue))

	jobCtx, cancel := context.WithCancel(ctx)
	p.running[job.TaskID] = cancel
	return job, jobCtx, true
}

func (p *Pool) run(ctx context.Context, job domain.Job) {
	defer func() {
		p.mu.Lock()
		if cancel, ok := p.running[job.TaskID]; ok {
			cancel()
			delete(p.running, job.TaskID)
		}
		p.mu.Unlock()
	}()

	if err := p.runner.Process(ctx, job); err != nil {
		if errors.Is(err, ErrTaskNotPending) || errors.Is(err, ErrTaskNotFound) {
			p.logger.Debug("task skipped", "task_id", job.TaskID, "reason", err)
			return
		}
		p.logger.Error("failed to process task", "task_id", job.TaskID, "error", err)
	}
}
