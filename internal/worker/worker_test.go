package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/prreview/internal/cache"
	"github.com/shaiso/prreview/internal/clock"
	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/fingerprint"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/registry"
	"github.com/shaiso/prreview/internal/retry"
	"github.com/shaiso/prreview/internal/telemetry"
)

// --- fakes ---

type fakeFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, attempt int) (*domain.PRContent, error)
}

func (f *fakeFetcher) FetchPR(ctx context.Context, _ domain.RepoRef, _ int, _ string) (*domain.PRContent, error) {
	n := int(f.calls.Add(1))
	return f.fn(ctx, n)
}

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, content *domain.PRContent) (*domain.Report, error)
}

func (a *fakeAnalyzer) Name() string { return "fake" }

func (a *fakeAnalyzer) Analyze(ctx context.Context, content *domain.PRContent) (*domain.Report, error) {
	a.calls.Add(1)
	return a.fn(ctx, content)
}

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []*domain.Task
	ch    chan *domain.Task
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan *domain.Task, 16)}
}

func (n *recordingNotifier) TaskSettled(_ context.Context, task *domain.Task) {
	n.mu.Lock()
	n.tasks = append(n.tasks, task)
	n.mu.Unlock()
	n.ch <- task
}

func (n *recordingNotifier) wait(t *testing.T) *domain.Task {
	t.Helper()
	select {
	case task := <-n.ch:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for settlement")
		return nil
	}
}

type fakeStore struct {
	archived atomic.Int32
	err      error
}

func (s *fakeStore) Archive(_ context.Context, task *domain.Task, _ *domain.Report) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.archived.Add(1)
	return "s3://reports/" + task.ID.String() + ".json", nil
}

func (s *fakeStore) Load(context.Context, string) (*domain.Report, error) {
	return nil, errors.New("not implemented")
}

type fakePublisher struct {
	mu        sync.Mutex
	ready     []domain.Job
	completed []mq.TaskCompletedPayload
	cancelled []uuid.UUID
	err       error
}

func (p *fakePublisher) PublishTaskReady(_ context.Context, job domain.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = append(p.ready, job)
	return p.err
}

func (p *fakePublisher) PublishTaskCompleted(_ context.Context, payload mq.TaskCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, payload)
	return p.err
}

func (p *fakePublisher) PublishTaskCancel(_ context.Context, taskID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, taskID)
	return p.err
}

// recordingSleeper не ждёт, только записывает задержки.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// --- helpers ---

func content(head string) *domain.PRContent {
	return &domain.PRContent{
		Owner:   "octo",
		Repo:    "repo",
		Number:  6,
		HeadSHA: head,
		Files:   []domain.PRFile{{Filename: "main.go", Patch: "+x"}},
		Diff:    "+x",
	}
}

func report(summary string) *domain.Report {
	return &domain.Report{RepoURL: "https://github.com/octo/repo", PRNumber: 6, Summary: summary}
}

func okAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(context.Context, *domain.PRContent) (*domain.Report, error) {
		return report("ok"), nil
	}}
}

func fetcherFor(head string) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context, int) (*domain.PRContent, error) {
		return content(head), nil
	}}
}

type env struct {
	reg      *registry.Memory
	cache    *cache.Memory
	notifier *recordingNotifier
	sleeper  *recordingSleeper
}

func newEnv() *env {
	return &env{
		reg:      registry.NewMemory(nil, time.Hour),
		cache:    cache.NewMemory(nil),
		notifier: newRecordingNotifier(),
		sleeper:  &recordingSleeper{},
	}
}

func (e *env) executor(f Fetcher, a *fakeAnalyzer) *Executor {
	policy := retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Backoff: retry.BackoffExponential}
	return NewExecutor(ExecutorConfig{
		Fetcher:  f,
		Analyzer: a,
		Retry:    &policy,
		Sleep:    e.sleeper.Sleep,
		Logger:   telemetry.Discard(),
	})
}

func (e *env) runner(exec *Executor, store *fakeStore) *Runner {
	cfg := RunnerConfig{
		Registry: e.reg,
		Cache:    e.cache,
		Executor: exec,
		Notifier: e.notifier,
		Logger:   telemetry.Discard(),
	}
	if store != nil {
		cfg.Store = store
	}
	return NewRunner(cfg)
}

// pendingJob регистрирует PENDING задачу с fingerprint'ом по head.
func (e *env) pendingJob(t *testing.T, head string) domain.Job {
	t.Helper()

	ref := domain.RepoRef{Owner: "octo", Name: "repo"}
	marker := fingerprint.HeadMarker(head)
	fp, err := fingerprint.DeriveFor(ref, 6, marker)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	task := domain.NewTask(fp, ref.FullName(), 6, head, time.Now())
	task.Marker = marker
	if err := e.reg.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}
	return domain.JobFromTask(task)
}

// --- Executor ---

func TestExecutor_PrefetchedSkipsFetch(t *testing.T) {
	e := newEnv()
	fetcher := fetcherFor("abc")
	exec := e.executor(fetcher, okAnalyzer())

	job := domain.Job{TaskID: uuid.New(), Prefetched: content("abc")}
	result, err := exec.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("prefetched content must not be fetched again")
	}
	if result.Report.Summary != "ok" || result.Content.HeadSHA != "abc" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestExecutor_RetriesRetryableFetch(t *testing.T) {
	e := newEnv()
	fetcher := &fakeFetcher{fn: func(_ context.Context, attempt int) (*domain.PRContent, error) {
		if attempt < 3 {
			return nil, domain.NewFetchError(domain.FetchCodeRateLimited, "slow down")
		}
		return content("abc"), nil
	}}
	exec := e.executor(fetcher, okAnalyzer())

	if _, err := exec.Execute(context.Background(), domain.Job{TaskID: uuid.New()}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if fetcher.calls.Load() != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", fetcher.calls.Load())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(e.sleeper.delays) != len(want) || e.sleeper.delays[0] != want[0] || e.sleeper.delays[1] != want[1] {
		t.Errorf("expected delays %v, got %v", want, e.sleeper.delays)
	}
}

func TestExecutor_TerminalFetchErrorIsNotRetried(t *testing.T) {
	e := newEnv()
	fetcher := &fakeFetcher{fn: func(context.Context, int) (*domain.PRContent, error) {
		return nil, domain.NewFetchError(domain.FetchCodeNotFound, "missing")
	}}
	analyzer := okAnalyzer()
	exec := e.executor(fetcher, analyzer)

	_, err := exec.Execute(context.Background(), domain.Job{TaskID: uuid.New()})

	var taskErr *domain.TaskError
	if !errors.As(err, &taskErr) || taskErr.Code != domain.FetchCodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", fetcher.calls.Load())
	}
	if analyzer.calls.Load() != 0 {
		t.Error("analysis must not run after fetch failure")
	}
}

func TestExecutor_AnalysisRetryExhausted(t *testing.T) {
	e := newEnv()
	analyzer := &fakeAnalyzer{fn: func(context.Context, *domain.PRContent) (*domain.Report, error) {
		return nil, domain.NewAnalysisError("model overloaded", true)
	}}
	exec := e.executor(fetcherFor("abc"), analyzer)

	_, err := exec.Execute(context.Background(), domain.Job{TaskID: uuid.New()})
	if domain.AsTaskError(err).Kind != domain.ErrorKindAnalysis {
		t.Fatalf("expected ANALYSIS_ERROR, got %v", err)
	}
	if analyzer.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", analyzer.calls.Load())
	}
}

func TestExecutor_AnalysisTimeout(t *testing.T) {
	analyzer := &fakeAnalyzer{fn: func(ctx context.Context, _ *domain.PRContent) (*domain.Report, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	policy := retry.Policy{MaxAttempts: 1}
	exec := NewExecutor(ExecutorConfig{
		Fetcher:         fetcherFor("abc"),
		Analyzer:        analyzer,
		Retry:           &policy,
		AnalysisTimeout: 10 * time.Millisecond,
		Logger:          telemetry.Discard(),
	})

	_, err := exec.Execute(context.Background(), domain.Job{TaskID: uuid.New()})
	if domain.AsTaskError(err).Kind != domain.ErrorKindTimeout {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestExecutor_EmptyContentIsAnError(t *testing.T) {
	e := newEnv()
	fetcher := &fakeFetcher{fn: func(context.Context, int) (*domain.PRContent, error) {
		return nil, nil
	}}
	analyzer := okAnalyzer()
	exec := e.executor(fetcher, analyzer)

	result, err := exec.Execute(context.Background(), domain.Job{TaskID: uuid.New()})
	if err == nil {
		t.Fatalf("expected error, got result %+v", result)
	}
	if domain.AsTaskError(err).Kind != domain.ErrorKindInternal {
		t.Errorf("expected INTERNAL, got %v", err)
	}
	if analyzer.calls.Load() != 0 {
		t.Error("analysis must not run without content")
	}
}

// --- Runner ---

func TestRunner_SuccessCachesAndNotifies(t *testing.T) {
	e := newEnv()
	store := &fakeStore{}
	runner := e.runner(e.executor(fetcherFor("abc"), okAnalyzer()), store)
	job := e.pendingJob(t, "abc")
	ctx := context.Background()

	if err := runner.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, _ := e.reg.Get(ctx, job.TaskID)
	if task.Status != domain.TaskStatusSucceeded || task.Attempt != 1 {
		t.Errorf("expected SUCCEEDED attempt 1, got %s attempt %d", task.Status, task.Attempt)
	}
	if task.ResultRef == "" || store.archived.Load() != 1 {
		t.Error("expected archived report reference")
	}

	entry, ok, _ := e.cache.Get(ctx, job.Fingerprint)
	if !ok || entry.Report.Summary != "ok" {
		t.Error("expected report in cache")
	}

	settled := e.notifier.wait(t)
	if settled.ID != job.TaskID || settled.Status != domain.TaskStatusSucceeded {
		t.Errorf("unexpected notification: %+v", settled)
	}
}

func TestRunner_HeadMovedSkipsCache(t *testing.T) {
	e := newEnv()
	// fingerprint вычислен для abc, а к моменту fetch head уже def.
	runner := e.runner(e.executor(fetcherFor("def"), okAnalyzer()), nil)
	job := e.pendingJob(t, "abc")
	ctx := context.Background()

	if err := runner.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, _ := e.reg.Get(ctx, job.TaskID)
	if task.Status != domain.TaskStatusSucceeded || task.Result == nil {
		t.Fatalf("expected task to succeed with report, got %s", task.Status)
	}
	if _, ok, _ := e.cache.Get(ctx, job.Fingerprint); ok {
		t.Error("report for a different PR state must not be cached")
	}
}

func TestRunner_FailureRecordsError(t *testing.T) {
	e := newEnv()
	fetcher := &fakeFetcher{fn: func(context.Context, int) (*domain.PRContent, error) {
		return nil, domain.NewFetchError(domain.FetchCodeUnauthorized, "bad token")
	}}
	runner := e.runner(e.executor(fetcher, okAnalyzer()), nil)
	job := e.pendingJob(t, "abc")
	ctx := context.Background()

	if err := runner.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, _ := e.reg.Get(ctx, job.TaskID)
	if task.Status != domain.TaskStatusFailed || task.Error.Code != domain.FetchCodeUnauthorized {
		t.Errorf("expected FAILED(unauthorized), got %s %+v", task.Status, task.Error)
	}
	if _, ok, _ := e.cache.Get(ctx, job.Fingerprint); ok {
		t.Error("failure must not populate the cache")
	}
	e.notifier.wait(t)
}

func TestRunner_ArchiveFailureDoesNotFailTask(t *testing.T) {
	e := newEnv()
	runner := e.runner(e.executor(fetcherFor("abc"), okAnalyzer()), &fakeStore{err: errors.New("minio down")})
	job := e.pendingJob(t, "abc")

	if err := runner.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, _ := e.reg.Get(context.Background(), job.TaskID)
	if task.Status != domain.TaskStatusSucceeded || task.ResultRef != "" {
		t.Errorf("expected SUCCEEDED without ref, got %s %q", task.Status, task.ResultRef)
	}
}

func TestRunner_SkipsNonPending(t *testing.T) {
	e := newEnv()
	fetcher := fetcherFor("abc")
	runner := e.runner(e.executor(fetcher, okAnalyzer()), nil)
	job := e.pendingJob(t, "abc")
	ctx := context.Background()

	e.reg.Update(ctx, job.TaskID, func(t *domain.Task) error {
		return t.MarkCancelled("user", time.Now())
	})

	if err := runner.Process(ctx, job); !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("expected ErrTaskNotPending, got %v", err)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("skipped task must not execute")
	}

	if err := runner.Process(ctx, domain.Job{TaskID: uuid.New()}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

// --- Pool ---

func TestPool_BoundedConcurrency(t *testing.T) {
	e := newEnv()

	var running, maxRunning atomic.Int32
	analyzer := &fakeAnalyzer{fn: func(context.Context, *domain.PRContent) (*domain.Report, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return report("ok"), nil
	}}

	runner := e.runner(e.executor(fetcherFor("abc"), analyzer), nil)
	pool := NewPool(PoolConfig{Runner: runner, Workers: 2, Logger: telemetry.Discard()})
	pool.Start(context.Background())
	defer pool.Stop()

	const jobs = 8
	for i := 0; i < jobs; i++ {
		job := e.pendingJob(t, "abc")
		if err := pool.Submit(context.Background(), nil, job); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i := 0; i < jobs; i++ {
		e.notifier.wait(t)
	}

	if maxRunning.Load() > 2 {
		t.Errorf("expected at most 2 concurrent executions, saw %d", maxRunning.Load())
	}
	if pool.QueueDepth() != 0 {
		t.Errorf("expected empty queue, got %d", pool.QueueDepth())
	}
}

func TestPool_CancelRunningTask(t *testing.T) {
	e := newEnv()

	started := make(chan struct{})
	analyzer := &fakeAnalyzer{fn: func(ctx context.Context, _ *domain.PRContent) (*domain.Report, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	runner := e.runner(e.executor(fetcherFor("abc"), analyzer), nil)
	pool := NewPool(PoolConfig{Runner: runner, Workers: 1, Logger: telemetry.Discard()})
	pool.Start(context.Background())
	defer pool.Stop()

	job := e.pendingJob(t, "abc")
	pool.Submit(context.Background(), nil, job)
	<-started

	if err := pool.Cancel(context.Background(), job.TaskID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	task := e.notifier.wait(t)
	if task.Status != domain.TaskStatusFailed || task.Error.Kind != domain.ErrorKindCancelled {
		t.Errorf("expected FAILED(CANCELLED), got %s %+v", task.Status, task.Error)
	}
}

func TestPool_SubmitDeduplicatesQueuedTask(t *testing.T) {
	e := newEnv()
	runner := e.runner(e.executor(fetcherFor("abc"), okAnalyzer()), nil)
	pool := NewPool(PoolConfig{Runner: runner, Workers: 1, Logger: telemetry.Discard()})

	job := e.pendingJob(t, "abc")
	pool.Submit(context.Background(), nil, job)
	pool.Submit(context.Background(), nil, job)

	if pool.QueueDepth() != 1 {
		t.Errorf("expected 1 queued job, got %d", pool.QueueDepth())
	}
}

func TestPool_RejectsAfterStop(t *testing.T) {
	e := newEnv()
	runner := e.runner(e.executor(fetcherFor("abc"), okAnalyzer()), nil)
	pool := NewPool(PoolConfig{Runner: runner, Workers: 1, Logger: telemetry.Discard()})
	pool.Start(context.Background())
	pool.Stop()

	if err := pool.Submit(context.Background(), nil, domain.Job{TaskID: uuid.New()}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

// --- Remote / Worker ---

func TestRemote(t *testing.T) {
	pub := &fakePublisher{}
	remote := NewRemote(pub)
	job := domain.Job{TaskID: uuid.New(), Prefetched: content("abc")}

	if err := remote.Submit(context.Background(), nil, job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(pub.ready) != 1 || pub.ready[0].TaskID != job.TaskID || pub.ready[0].Prefetched != nil {
		t.Errorf("unexpected published job: %+v", pub.ready)
	}

	if err := remote.Cancel(context.Background(), job.TaskID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(pub.cancelled) != 1 || pub.cancelled[0] != job.TaskID {
		t.Errorf("unexpected cancel: %v", pub.cancelled)
	}

	pub.err = errors.New("broker down")
	if err := remote.Submit(context.Background(), nil, job); err == nil {
		t.Error("expected publish error to surface")
	}
}

func TestWorker_PollPicksStalePendingAndPublishesCompletion(t *testing.T) {
	e := newEnv()
	pub := &fakePublisher{}
	fake := clock.NewFake(time.Now().Add(time.Minute))

	runner := e.runner(e.executor(fetcherFor("abc"), okAnalyzer()), nil)
	w := New(Config{
		Registry:  e.reg,
		Runner:    runner,
		Workers:   1,
		Publisher: pub,
		PollGrace: 30 * time.Second,
		Clock:     fake,
		Logger:    telemetry.Discard(),
	})
	ctx := context.Background()

	stale := e.pendingJob(t, "abc")

	// Свежая задача: ещё может прийти через RabbitMQ, poll её не трогает.
	fresh := domain.NewTask("fp-fresh", "octo/repo", 7, "abc", fake.Now())
	e.reg.Create(ctx, fresh)

	if n := w.poll(ctx); n != 1 {
		t.Fatalf("expected 1 task picked, got %d", n)
	}

	w.pool.Start(ctx)
	defer w.pool.Stop()

	deadline := time.After(5 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.completed)
		pub.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task.completed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	got := pub.completed[0]
	if got.TaskID != stale.TaskID || got.Status != domain.TaskStatusSucceeded || got.Fingerprint != stale.Fingerprint {
		t.Errorf("unexpected completion payload: %+v", got)
	}
}

func TestRunner_TaskSettledElsewhereSkipsCache(t *testing.T) {
	e := newEnv()
	store := &fakeStore{}
	job := e.pendingJob(t, "abc")
	ctx := context.Background()

	// Пока идёт анализ, janitor признаёт задачу зависшей.
	analyzer := &fakeAnalyzer{fn: func(context.Context, *domain.PRContent) (*domain.Report, error) {
		_, err := e.reg.Update(ctx, job.TaskID, func(t *domain.Task) error {
			return t.MarkFailed(domain.NewTimeoutError("stale"), time.Now())
		})
		if err != nil {
			return nil, err
		}
		return report("late"), nil
	}}
	runner := e.runner(e.executor(fetcherFor("abc"), analyzer), store)

	if err := runner.Process(ctx, job); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, ok, _ := e.cache.Get(ctx, job.Fingerprint); ok {
		t.Error("late result must not be cached")
	}
	if store.archived.Load() != 0 {
		t.Error("late result must not be archived")
	}

	task := e.notifier.wait(t)
	if task.Status != domain.TaskStatusFailed || task.Error.Kind != domain.ErrorKindTimeout {
		t.Errorf("expected FAILED(TIMEOUT) to stay, got %s %+v", task.Status, task.Error)
	}
}
