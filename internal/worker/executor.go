package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/prreview/internal/analyzer"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/retry"
	"github.com/shaiso/prreview/internal/telemetry"
)

// Default configuration values.
const (
	defaultFetchTimeout    = 30 * time.Second
	defaultAnalysisTimeout = 5 * time.Minute
)

// Fetcher — получение содержимого PR (github.Client).
type Fetcher interface {
	FetchPR(ctx context.Context, repo domain.RepoRef, number int, token string) (*domain.PRContent, error)
}

// Result — результат выполнения задачи.
type Result struct {
	// Content — содержимое PR, на котором строился отчёт.
	Content *domain.PRContent

	// Report — отчёт анализа.
	Report *domain.Report
}

// Executor выполняет одну задачу: fetch → analyze.
//
// Каждая стадия идёт в retry-цикле со своим таймаутом на попытку.
// Ошибки возвращаются как *domain.TaskError.
type Executor struct {
	fetcher  Fetcher
	analyzer analyzer.Analyzer

	policy retry.Policy
	sleep  retry.Sleeper

	fetchTimeout    time.Duration
	analysisTimeout time.Duration

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// ExecutorConfig — конфигурация Executor.
type ExecutorConfig struct {
	Fetcher  Fetcher
	Analyzer analyzer.Analyzer

	// Retry — политика повторов для fetch и analyze (default: retry.DefaultPolicy()).
	Retry *retry.Policy

	// Sleep — ожидание между попытками (default: retry.SleepContext).
	Sleep retry.Sleeper

	FetchTimeout    time.Duration // default: 30s
	AnalysisTimeout time.Duration // default: 5m

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	policy := retry.DefaultPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	analysisTimeout := cfg.AnalysisTimeout
	if analysisTimeout <= 0 {
		analysisTimeout = defaultAnalysisTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		fetcher:         cfg.Fetcher,
		analyzer:        cfg.Analyzer,
		policy:          policy,
		sleep:           cfg.Sleep,
		fetchTimeout:    fetchTimeout,
		analysisTimeout: analysisTimeout,
		metrics:         cfg.Metrics,
		logger:          logger,
	}
}

// Execute получает PR (если содержимое не передано в job) и анализирует его.
func (e *Executor) Execute(ctx context.Context, job domain.Job) (*Result, error) {
	logger := telemetry.WithTaskID(e.logger, job.TaskID.String())

	content := job.Prefetched
	if content == nil {
		var err error
		content, err = e.fetch(ctx, job, logger)
		if err != nil {
			return nil, domain.AsTaskError(err)
		}
	}

	report, err := e.analyze(ctx, content, logger)
	if err != nil {
		return nil, domain.AsTaskError(err)
	}

	return &Result{Content: content, Report: report}, nil
}

func (e *Executor) fetch(ctx context.Context, job domain.Job, logger *slog.Logger) (*domain.PRContent, error) {
	var content *domain.PRContent

	err := retry.Do(ctx, e.policy, e.sleep, e.onRetry(logger, "fetch"), func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()

		c, err := e.fetcher.FetchPR(ctx, job.Repo, job.Number, job.Credential)
		if err != nil {
			return err
		}
		if c == nil {
			return errors.New("empty pull request content")
		}
		content = c
		return nil
	})

	return content, err
}

func (e *Executor) analyze(ctx context.Context, content *domain.PRContent, logger *slog.Logger) (*domain.Report, error) {
	var report *domain.Report

	err := retry.Do(ctx, e.policy, e.sleep, e.onRetry(logger, "analyze"), func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, e.analysisTimeout)
		defer cancel()

		start := time.Now()
		r, err := e.analyzer.Analyze(ctx, content)
		e.metrics.ObserveCall(telemetry.CallAnalyze, time.Since(start))
		if err != nil {
			return err
		}
		report = r
		return nil
	})

	return report, err
}

func (e *Executor) onRetry(logger *slog.Logger, stage string) retry.OnRetry {
	return func(attempt int, delay time.Duration, err error) {
		logger.Warn("stage failed, retrying",
			"stage", stage,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
}
