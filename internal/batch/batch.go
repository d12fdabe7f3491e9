package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/orchestrator"
	"github.com/shaiso/prreview/internal/telemetry"
)

// Default configuration values.
const (
	DefaultMaxItems    = 10
	DefaultConcurrency = 5
)

// Status — итог элемента batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Submitter ставит один PR в работу (review.Service).
type Submitter interface {
	Submit(ctx context.Context, req domain.PRRequest) (*orchestrator.Handle, error)
}

// Outcome — результат одного элемента.
type Outcome struct {
	Index    int               `json:"index"`
	Repo     string            `json:"repo_url"`
	PRNumber int               `json:"pr_number"`
	TaskID   string            `json:"task_id,omitempty"`
	Status   Status            `json:"status"`
	Report   *domain.Report    `json:"result,omitempty"`
	Error    *domain.TaskError `json:"error,omitempty"`
}

// Summary — счётчики batch.
type Summary struct {
	Total     int `json:"total_prs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Result — результат RunBatch.
type Result struct {
	ID       uuid.UUID     `json:"batch_id"`
	Outcomes []Outcome     `json:"results"`
	Summary  Summary       `json:"summary"`
	Duration time.Duration `json:"-"`
}

// Orchestrator выполняет batch'и.
type Orchestrator struct {
	submitter   Submitter
	maxItems    int
	concurrency int

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Submitter   Submitter
	MaxItems    int // default: 10
	Concurrency int // одновременных Submit (default: 5)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		submitter:   cfg.Submitter,
		maxItems:    maxItems,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// MaxItems возвращает лимит элементов.
func (o *Orchestrator) MaxItems() int { return o.maxItems }

// Validate проверяет вход целиком до начала работы.
func (o *Orchestrator) Validate(reqs []domain.PRRequest) error {
	if len(reqs) == 0 {
		return fmt.Errorf("%w: batch is empty", domain.ErrInvalidInput)
	}
	if len(reqs) > o.maxItems {
		return fmt.Errorf("%w: batch has %d items, maximum is %d", domain.ErrInvalidInput, len(reqs), o.maxItems)
	}
	for i, req := range reqs {
		if _, err := req.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// RunBatch ставит все элементы в работу и ждёт их завершения.
//
// Сначала все элементы передаются Submitter'у (не более concurrency
// одновременных Submit: разрешение marker'а ходит в GitHub), затем
// ожидаются все Handle сразу. Число одновременно выполняемых задач
// ограничивает backend.
//
// Outcomes[i] соответствует reqs[i]. Отмена ctx не прерывает batch:
// элементы, которые не успели завершиться, получают TIMEOUT, а ещё не
// отправленные не создают задач.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []domain.PRRequest) (*Result, error) {
	if o.submitter == nil {
		return nil, ErrNoSubmitter
	}
	if err := o.Validate(reqs); err != nil {
		return nil, err
	}

	start := time.Now()
	id := uuid.New()
	logger := o.logger.With("batch_id", id)
	logger.Info("batch started", "items", len(reqs))
	o.metrics.ObserveBatch(len(reqs))

	outcomes := make([]Outcome, len(reqs))
	handles := make([]*orchestrator.Handle, len(reqs))

	// 1. Submit
	submit, sctx := errgroup.WithContext(ctx)
	submit.SetLimit(o.concurrency)
	for i, req := range reqs {
		outcomes[i] = Outcome{Index: i, Repo: req.Repo, PRNumber: req.Number}
		submit.Go(func() error {
			handle, err := o.submitItem(sctx, req)
			if err != nil {
				outcomes[i] = outcomes[i].fail(waitError(sctx, err))
				return nil
			}
			handles[i] = handle
			outcomes[i].TaskID = handle.TaskID.String()
			return nil
		})
	}
	_ = submit.Wait()

	// 2. Ожидание
	wait, wctx := errgroup.WithContext(ctx)
	for i, handle := range handles {
		if handle == nil {
			continue
		}
		wait.Go(func() error {
			outcomes[i] = o.awaitItem(wctx, outcomes[i], handle)
			return nil
		})
	}
	_ = wait.Wait()

	result := &Result{
		ID:       id,
		Outcomes: outcomes,
		Summary:  summarize(outcomes),
		Duration: time.Since(start),
	}

	logger.Info("batch finished",
		"succeeded", result.Summary.Succeeded,
		"failed", result.Summary.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

func (o *Orchestrator) submitItem(ctx context.Context, req domain.PRRequest) (*orchestrator.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.submitter.Submit(ctx, req)
}

func (o *Orchestrator) awaitItem(ctx context.Context, out Outcome, handle *orchestrator.Handle) Outcome {
	task, err := handle.Wait(ctx)
	if err != nil {
		return out.fail(waitError(ctx, err))
	}

	if task.Status != domain.TaskStatusSucceeded {
		return out.fail(task.Error)
	}

	out.Status = StatusSuccess
	out.Report = task.Result
	return out
}

func (out Outcome) fail(taskErr *domain.TaskError) Outcome {
	if taskErr == nil {
		taskErr = domain.NewInternalError("task failed without error")
	}
	out.Status = StatusError
	out.Error = taskErr
	return out
}

// waitError — истёкший или отменённый контекст ожидания становится TIMEOUT элемента.
func waitError(ctx context.Context, err error) *domain.TaskError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError("batch wait interrupted: " + err.Error())
	}
	return domain.AsTaskError(err)
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}
