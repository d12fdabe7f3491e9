package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/registry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultPollGrace    = 30 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// Worker — процесс prreview-worker.
//
// Worker — stateless компонент системы, который:
//   - Получает задачи из очереди tasks.ready (event-driven)
//   - Периодически ищет зависшие PENDING задачи в реестре (polling fallback)
//   - Выполняет их в локальном Pool
//   - Отменяет свои задачи по событию task.cancel
//   - Публикует task.completed после терминального перехода
//
// Workers масштабируются горизонтально: задачу выполняет тот, кто первым
// переведёт её PENDING → RUNNING.
type Worker struct {
	registry  registry.Registry
	pool      *Pool
	publisher Publisher
	conn      *mq.Connection

	// Consumers
	tasksConsumer  *mq.Consumer
	eventsConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	pollGrace    time.Duration
	batchSize    int

	// Lifecycle
	clock      clock.Clock
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Registry registry.Registry

	// Runner — исполнитель; Worker становится его Notifier'ом.
	Runner  *Runner
	Workers int // размер локального пула (default: 4)

	// MQ
	Publisher Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	PollGrace    time.Duration // возраст PENDING задачи, после которого её берёт poll (default: 30s)
	BatchSize    int           // количество задач за один poll (default: 50)

	Clock  clock.Clock
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	pollGrace := cfg.PollGrace
	if pollGrace <= 0 {
		pollGrace = defaultPollGrace
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		pollGrace:    pollGrace,
		batchSize:    batchSize,
		clock:        clock.OrSystem(cfg.Clock),
		logger:       logger,
	}

	cfg.Runner.SetNotifier(w)
	w.pool = NewPool(PoolConfig{
		Runner:  cfg.Runner,
		Workers: cfg.Workers,
		Metrics: cfg.Runner.metrics,
		Logger:  logger,
	})

	return w
}

// Start запускает Worker.
//
// Запускает:
//   - Pool
//   - Consumer для tasks.ready и consumer событий (task.cancel), если задан Conn
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"poll_grace", w.pollGrace,
		"batch_size", w.batchSize,
	)

	w.pool.Start(ctx)

	if w.conn != nil {
		w.tasksConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Declare:  mq.DeclareTasksQueue,
			Handler:  w.handleTaskReady,
			Prefetch: defaultPrefetch,
		})
		w.eventsConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Declare:  mq.DeclareEventsQueue,
			Handler:  w.handleEvent,
			Prefetch: 20,
		})

		for _, c := range []*mq.Consumer{w.tasksConsumer, w.eventsConsumer} {
			w.wg.Add(1)
			go func(c *mq.Consumer) {
				defer w.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Error("consumer error", "error", err)
				}
			}(c)
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	for _, c := range []*mq.Consumer{w.tasksConsumer, w.eventsConsumer} {
		if c != nil {
			c.Stop()
		}
	}

	w.wg.Wait()
	w.pool.Stop()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// TaskSettled реализует Notifier: публикует task.completed.
func (w *Worker) TaskSettled(ctx context.Context, task *domain.Task) {
	if w.publisher == nil {
		return
	}

	if err := w.publisher.PublishTaskCompleted(ctx, mq.CompletedPayloadFor(task)); err != nil {
		// Задача уже записана в реестр, API снимет flight через reconcile.
		w.logger.Warn("failed to publish task.completed",
			"task_id", task.ID,
			"error", err,
		)
	}
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем задачи, созданные пока воркеры были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll передаёт пулу PENDING задачи, которые ждут дольше pollGrace.
func (w *Worker) poll(ctx context.Context) int {
	tasks, err := w.registry.ListActive(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to list active tasks", "error", err)
		}
		return 0
	}

	cutoff := w.clock.Now().Add(-w.pollGrace)
	picked := 0

	for _, task := range tasks {
		if task.Status != domain.TaskStatusPending || task.CreatedAt.After(cutoff) {
			continue
		}
		if err := w.pool.Submit(ctx, task, domain.JobFromTask(task)); err != nil {
			w.logger.Error("failed to enqueue task from poll", "task_id", task.ID, "error", err)
			continue
		}
		picked++
	}

	if picked > 0 {
		w.logger.Debug("poll picked pending tasks", "count", picked)
	}
	return picked
}
