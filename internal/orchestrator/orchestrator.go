package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/telemetry"
)

// Default configuration values.
const (
	defaultCacheTTL          = time.Hour
	defaultReconcileInterval = 30 * time.Second
)

// Backend — Execution Backend с точки зрения диспетчера.
//
// Submit не должен блокироваться на выполнении: он только принимает работу
// (кладёт в локальную очередь или публикует в RabbitMQ). О завершении backend
// сообщает через Dispatcher.TaskSettled.
type Backend interface {
	// Submit передаёт задачу на выполнение.
	Submit(ctx context.Context, task *domain.Task, job domain.Job) error

	// Cancel пытается прервать выполняющуюся задачу (best-effort).
	Cancel(ctx context.Context, taskID uuid.UUID) error
}

// Dispatcher — Single-Flight Dispatcher.
//
// Гарантирует, что для одного fingerprint'а одновременно выполняется не более
// одной задачи. Последовательность "кэш → локальный flight → in-flight marker →
// создание задачи → регистрация flight" атомарна относительно других вызовов
// с тем же fingerprint'ом (keyed lock). Передача работы backend'у происходит
// уже после освобождения блокировки.
//
// Dispatcher не синглтон: каждый экземпляр владеет своей картой flights,
// поэтому в одном процессе (и в тестах) могут жить независимые экземпляры.
type Dispatcher struct {
	// Stores
	registry registry.Registry
	cache    cache.Cache
	inflight InflightStore

	// Execution
	backend Backend

	// MQ (опционально: completion consumer для распределённого backend'а)
	conn *mq.Connection

	// Flights — выполнения, зарегистрированные этим процессом.
	locks   *keyedMutex
	flights map[domain.Fingerprint]*flight
	byTask  map[uuid.UUID]*flight
	mu      sync.RWMutex

	// Consumers
	eventsConsumer *mq.Consumer

	// Configuration
	cacheTTL          time.Duration
	leaseTTL          time.Duration
	waitPoll          time.Duration
	reconcileInterval time.Duration

	// Lifecycle
	clock      clock.Clock
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	// Stores
	Registry registry.Registry
	Cache    cache.Cache
	Inflight InflightStore // default: NewMemoryInflight

	// Backend — исполнитель. Может быть выставлен позже через SetBackend.
	Backend Backend

	// Conn — соединение RabbitMQ; если задано, Start слушает события task.completed.
	Conn *mq.Connection

	// TTL
	CacheTTL time.Duration // TTL записи кэша (default: 1h)
	LeaseTTL time.Duration // TTL in-flight marker'а (default: 1h)

	// WaitPoll — интервал опроса реестра в Handle.Wait (default: 1s).
	WaitPoll time.Duration

	// ReconcileInterval — интервал сверки локальных flights с реестром (default: 30s).
	ReconcileInterval time.Duration

	Clock   clock.Clock
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}

	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = defaultReconcileInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := clock.OrSystem(cfg.Clock)

	inflight := cfg.Inflight
	if inflight == nil {
		inflight = NewMemoryInflight(c)
	}

	return &Dispatcher{
		registry:          cfg.Registry,
		cache:             cfg.Cache,
		inflight:          inflight,
		backend:           cfg.Backend,
		conn:              cfg.Conn,
		locks:             newKeyedMutex(),
		flights:           make(map[domain.Fingerprint]*flight),
		byTask:            make(map[uuid.UUID]*flight),
		cacheTTL:          cacheTTL,
		leaseTTL:          leaseTTL,
		waitPoll:          cfg.WaitPoll,
		reconcileInterval: reconcileInterval,
		clock:             c,
		metrics:           cfg.Metrics,
		logger:            logger,
	}
}

// SetBackend выставляет backend. Нужен, когда backend сам ссылается на
// Dispatcher как на получателя уведомлений (локальный пул).
func (d *Dispatcher) SetBackend(b Backend) {
	d.backend = b
}

// Start запускает фоновые компоненты.
//
// Запускает:
//   - Consumer событий task.completed (если задан Conn)
//   - Сверку локальных flights с реестром (страховка от потерянных событий)
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"cache_ttl", d.cacheTTL,
		"lease_ttl", d.leaseTTL,
		"reconcile_interval", d.reconcileInterval,
	)

	if d.conn != nil {
		d.eventsConsumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Declare:  mq.DeclareEventsQueue,
			Handler:  d.handleEvent,
			Prefetch: 20,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.eventsConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("events consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reconcileLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает Dispatcher.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	if d.eventsConsumer != nil {
		d.eventsConsumer.Stop()
	}

	// Ждём завершения горутин
	d.wg.Wait()

	d.logger.Info("dispatcher stopped",
		"inflight", d.InflightCount(),
	)
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// reconcileLoop — периодическая сверка flights с реестром.
func (d *Dispatcher) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(d.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Reconcile(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("reconcile failed", "error", err)
			}
		}
	}
}

// lookupFlight возвращает локальный flight для fingerprint'а.
func (d *Dispatcher) lookupFlight(fp domain.Fingerprint) *flight {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flights[fp]
}

// addFlight регистрирует flight.
func (d *Dispatcher) addFlight(f *flight) {
	d.mu.Lock()
	if f.dedup {
		d.flights[f.fp] = f
	}
	d.byTask[f.taskID] = f
	n := len(d.byTask)
	d.mu.Unlock()

	d.metrics.SetInflight(n)
}

// removeFlight снимает flight задачи и возвращает его (nil, если его нет).
func (d *Dispatcher) removeFlight(taskID uuid.UUID) *flight {
	d.mu.Lock()
	f, ok := d.byTask[taskID]
	if ok {
		delete(d.byTask, taskID)
		if d.flights[f.fp] == f {
			delete(d.flights, f.fp)
		}
	}
	n := len(d.byTask)
	d.mu.Unlock()

	if !ok {
		return nil
	}
	d.metrics.SetInflight(n)
	return f
}

// InflightCount возвращает количество локальных flights.
func (d *Dispatcher) InflightCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byTask)
}

// IsInflight проверяет, есть ли у fingerprint'а локальный flight.
func (d *Dispatcher) IsInflight(fp domain.Fingerprint) bool {
	return d.lookupFlight(fp) != nil
}
