package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/prreview/internal/batch"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/fingerprint"
	"github.com/shaiso/prreview/internal/orchestrator"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/retry"
	"github.com/shaiso/prreview/internal/telemetry"
)

const defaultFetchTimeout = 30 * time.Second

// GitHub — то, что Service нужно от github.Client.
type GitHub interface {
	HeadSHA(ctx context.Context, repo domain.RepoRef, number int, token string) (string, error)
	FetchPR(ctx context.Context, repo domain.RepoRef, number int, token string) (*domain.PRContent, error)
}

// Service — core facade: SubmitSingle / Submit / GetTaskState / Cancel / RunBatch.
type Service struct {
	dispatcher *orchestrator.Dispatcher
	registry   registry.Registry
	github     GitHub
	batch      *batch.Orchestrator

	mode         fingerprint.Mode
	policy       retry.Policy
	sleep        retry.Sleeper
	fetchTimeout time.Duration

	logger *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Dispatcher *orchestrator.Dispatcher
	Registry   registry.Registry
	GitHub     GitHub

	// Mode — стратегия content marker (default: head_sha).
	Mode fingerprint.Mode

	// Retry — политика повторов для обращений к GitHub (default: retry.DefaultPolicy()).
	Retry *retry.Policy
	Sleep retry.Sleeper

	FetchTimeout time.Duration // default: 30s

	BatchMaxItems    int
	BatchConcurrency int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	mode := cfg.Mode
	if !mode.IsValid() {
		mode = fingerprint.ModeHeadSHA
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		github:       cfg.GitHub,
		mode:         mode,
		policy:       policy,
		sleep:        cfg.Sleep,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}

	s.batch = batch.New(batch.Config{
		Submitter:   s,
		MaxItems:    cfg.BatchMaxItems,
		Concurrency: cfg.BatchConcurrency,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	return s
}

// SubmitSingle ставит PR в работу и сразу возвращает идентификатор задачи.
func (s *Service) SubmitSingle(ctx context.Context, req domain.PRRequest) (uuid.UUID, error) {
	h, err := s.Submit(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}
	return h.TaskID, nil
}

// Submit ставит PR в работу и возвращает Handle для ожидания.
//
// Синхронно возвращается только ErrInvalidInput (и ошибки хранилища).
// Сбой GitHub при вычислении fingerprint'а становится FAILED задачей.
func (s *Service) Submit(ctx context.Context, req domain.PRRequest) (*orchestrator.Handle, error) {
	ref, err := req.Validate()
	if err != nil {
		return nil, err
	}

	logger := telemetry.WithPR(s.logger, ref.FullName(), req.Number)

	job, err := s.resolve(ctx, ref, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		taskErr := domain.AsTaskError(err)
		logger.Warn("failed to resolve pull request state",
			"error_kind", taskErr.Kind,
			"error_code", taskErr.Code,
			"error", taskErr.Message,
		)
		return s.dispatcher.SubmitFailed(ctx, ref.FullName(), req.Number, taskErr)
	}

	fp, err := fingerprint.DeriveFor(ref, req.Number, job.Marker)
	if err != nil {
		return nil, err
	}

	return s.dispatcher.Submit(ctx, fp, job, orchestrator.OptionsFor(req.Force))
}

// GetTaskState возвращает snapshot задачи или registry.ErrNotFound.
func (s *Service) GetTaskState(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.registry.Get(ctx, id)
}

// Cancel отменяет задачу (см. orchestrator.Dispatcher.Cancel).
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.dispatcher.Cancel(ctx, id)
}

// RunBatch анализирует список PR и возвращает результаты в порядке входа.
func (s *Service) RunBatch(ctx context.Context, reqs []domain.PRRequest) (*batch.Result, error) {
	return s.batch.RunBatch(ctx, reqs)
}

// BatchMaxItems возвращает лимит элементов batch.
func (s *Service) BatchMaxItems() int {
	return s.batch.MaxItems()
}

// resolve вычисляет content marker и собирает Job.
//
// head_sha: один лёгкий запрос за SHA; пустой SHA — переход на diff.
// diff: полный fetch, содержимое уходит в Job как prefetched.
func (s *Service) resolve(ctx context.Context, ref domain.RepoRef, req domain.PRRequest) (domain.Job, error) {
	job := domain.Job{
		Repo:       ref,
		Number:     req.Number,
		Credential: req.Credential,
	}

	if s.mode == fingerprint.ModeHeadSHA {
		sha, err := s.headSHA(ctx, ref, req)
		if err != nil {
			return job, err
		}
		if sha != "" {
			job.HeadSHA = sha
			job.Marker = fingerprint.HeadMarker(sha)
			return job, nil
		}
		s.logger.Debug("empty head sha, falling back to diff marker",
			"repo", ref.FullName(),
			"pr_number", req.Number,
		)
	}

	content, err := s.fetch(ctx, ref, req)
	if err != nil {
		return job, err
	}
	if content.Diff == "" && content.HeadSHA == "" {
		return job, domain.NewFetchError(domain.FetchCodeUnavailable, "pull request has neither head sha nor diff")
	}

	job.HeadSHA = content.HeadSHA
	job.Marker = fingerprint.MarkerFor(fingerprint.ModeDiff, content)
	job.Prefetched = content
	return job, nil
}

func (s *Service) headSHA(ctx context.Context, ref domain.RepoRef, req domain.PRRequest) (string, error) {
	var sha string
	err := retry.Do(ctx, s.policy, s.sleep, s.onRetry("head_sha"), func(ctx context.Context, _ int) error {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		v, err := s.github.HeadSHA(ctx, ref, req.Number, req.Credential)
		if err != nil {
			return err
		}
		sha = v
		return nil
	})
	return sha, err
}

func (s *Service) fetch(ctx context.Context, ref domain.RepoRef, req domain.PRRequest) (*domain.PRContent, error) {
	var content *domain.PRContent
	err := retry.Do(ctx, s.policy, s.sleep, s.onRetry("fetch"), func(ctx context.Context, _ int) error {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		c, err := s.github.FetchPR(ctx, ref, req.Number, req.Credential)
		if err != nil {
			return err
		}
		if c == nil {
			return errors.New("empty pull request content")
		}
		content = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pull request: %w", err)
	}
	return content, nil
}

func (s *Service) onRetry(stage string) retry.OnRetry {
	return func(attempt int, delay time.Duration, err error) {
		s.logger.Warn("github call failed, retrying",
			"stage", stage,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
}
