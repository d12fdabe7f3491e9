package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/prreview/internal/domain"
	"github.com/shaiso/prreview/internal/telemetry"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.github.com"

	defaultRateLimit = 10 // запросов в секунду на процесс
	defaultBurst     = 5
	defaultTimeout   = 30 * time.Second

	filesPerPage = 100
	// GitHub отдаёт не больше 3000 файлов PR.
	maxFilePages = 30

	// maxBody — предел чтения тела ответа (diff'ы больших PR).
	maxBody = 32 << 20
)

const (
	acceptJSON = "application/vnd.github+json"
	acceptDiff = "application/vnd.github.v3.diff"
)

// Client — клиент GitHub REST API для чтения pull request'ов.
//
// Все исходящие запросы проходят через общий rate.Limiter. Ошибки
// возвращаются как *domain.TaskError с кодом FETCH_ERROR, поэтому retry-цикл
// различает повторяемые (rate limit, 5xx) и окончательные (404, 401) сбои.
type Client struct {
	baseURL      string
	defaultToken string
	httpClient   *http.Client
	limiter      *rate.Limiter
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// Config — конфигурация Client.
type Config struct {
	BaseURL      string        // default: https://api.github.com
	DefaultToken string        // используется, если запрос не принёс свой токен
	RateLimit    float64       // запросов в секунду (default: 10)
	Burst        int           // default: 5
	Timeout      time.Duration // таймаут одного HTTP запроса (default: 30s)
	HTTPClient   *http.Client

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:      baseURL,
		defaultToken: cfg.DefaultToken,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(rate.Limit(limit), burst),
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// pullResponse — нужные поля ответа GET /repos/{owner}/{repo}/pulls/{number}.
type pullResponse struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		SHA string `json:"sha"`
	} `json:"base"`
}

// HeadSHA возвращает текущий head commit PR.
func (c *Client) HeadSHA(ctx context.Context, repo domain.RepoRef, number int, token string) (string, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveCall(telemetry.CallGitHubHead, time.Since(start)) }()

	var pr pullResponse
	if err := c.getJSON(ctx, c.pullURL(repo, number), token, &pr); err != nil {
		return "", err
	}
	return pr.Head.SHA, nil
}

// FetchPR получает метаданные PR, список изменённых файлов и unified diff.
func (c *Client) FetchPR(ctx context.Context, repo domain.RepoRef, number int, token string) (*domain.PRContent, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveCall(telemetry.CallGitHubFetch, time.Since(start)) }()

	var pr pullResponse
	if err := c.getJSON(ctx, c.pullURL(repo, number), token, &pr); err != nil {
		return nil, err
	}

	files, err := c.fetchFiles(ctx, repo, number, token)
	if err != nil {
		return nil, err
	}

	diff, err := c.get(ctx, c.pullURL(repo, number), token, acceptDiff)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched pull request",
		"repo", repo.FullName(),
		"pr_number", number,
		"head_sha", pr.Head.SHA,
		"files", len(files),
	)

	return &domain.PRContent{
		Owner:   repo.Owner,
		Repo:    repo.Name,
		Number:  number,
		Title:   pr.Title,
		Body:    pr.Body,
		HeadSHA: pr.Head.SHA,
		BaseSHA: pr.Base.SHA,
		Files:   files,
		Diff:    string(diff),
	}, nil
}

// fetchFiles читает все страницы /files.
func (c *Client) fetchFiles(ctx context.Context, repo domain.RepoRef, number int, token string) ([]domain.PRFile, error) {
	var files []domain.PRFile

	for page := 1; page <= maxFilePages; page++ {
		url := fmt.Sprintf("%s/files?per_page=%d&page=%d", c.pullURL(repo, number), filesPerPage, page)

		var batch []domain.PRFile
		if err := c.getJSON(ctx, url, token, &batch); err != nil {
			return nil, err
		}

		files = append(files, batch...)
		if len(batch) < filesPerPage {
			break
		}
	}

	return files, nil
}

func (c *Client) pullURL(repo domain.RepoRef, number int) string {
	return fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, repo.Owner, repo.Name, number)
}

func (c *Client) getJSON(ctx context.Context, url, token string, out any) error {
	body, err := c.get(ctx, url, token, acceptJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewFetchError(domain.FetchCodeUnavailable, "decode github response: "+err.Error())
	}
	return nil
}

// get выполняет GET с учётом лимита и переводит ответ в ошибку домена.
func (c *Client) get(ctx context.Context, url, token, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, contextError(ctx, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewInternalError("build github request: " + err.Error())
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if t := c.token(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, err)
		}
		return nil, domain.NewFetchError(domain.FetchCodeUnavailable, "github request failed: "+err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, err)
		}
		return nil, domain.NewFetchError(domain.FetchCodeUnavailable, "read github response: "+err.Error())
	}

	if err := statusError(resp, body); err != nil {
		c.logger.Debug("github request failed",
			"url", url,
			"status", resp.StatusCode,
			"error", err,
		)
		return nil, err
	}

	return body, nil
}

// token возвращает токен запроса или токен по умолчанию.
func (c *Client) token(requested string) string {
	if requested != "" {
		return requested
	}
	return c.defaultToken
}

// statusError переводит HTTP статус в *domain.TaskError.
func statusError(resp *http.Response, body []byte) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return domain.NewFetchError(domain.FetchCodeNotFound, "pull request or repository not found")
	case code == http.StatusUnauthorized:
		return domain.NewFetchError(domain.FetchCodeUnauthorized, "github authentication failed")
	case code == http.StatusTooManyRequests:
		return domain.NewFetchError(domain.FetchCodeRateLimited, "github rate limit exceeded")
	case code == http.StatusForbidden:
		// 403 без исчерпанного лимита — отказ в доступе, повторять бессмысленно.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" ||
			strings.Contains(strings.ToLower(string(body)), "rate limit") {
			return domain.NewFetchError(domain.FetchCodeRateLimited, "github rate limit exceeded")
		}
		return domain.NewFetchError(domain.FetchCodeUnauthorized, "github access denied")
	case code >= 500:
		return domain.NewFetchError(domain.FetchCodeUnavailable, fmt.Sprintf("github unavailable (status %d)", code))
	default:
		return domain.NewFetchError(domain.FetchCodeRejected, fmt.Sprintf("github rejected request (status %d)", code))
	}
}

// contextError сохраняет причину отмены: deadline → TIMEOUT, cancel → CANCELLED.
func contextError(ctx context.Context, err error) error {
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("github request: %w", cause)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("github request: %w", err)
	}
	return domain.NewFetchError(domain.FetchCodeUnavailable, err.Error())
}
