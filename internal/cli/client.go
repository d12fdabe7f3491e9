package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskError — причина неудачи задачи.
type TaskError struct {
	Kind      string `json:"kind"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *TaskError) String() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// TaskResponse — состояние задачи из API.
type TaskResponse struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	ResultReady bool       `json:"result_ready"`
	Error       *TaskError `json:"error,omitempty"`
	Repo        string     `json:"repo"`
	PRNumber    int        `json:"pr_number"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	HeadSHA     string     `json:"head_sha,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	CreatedAt   string     `json:"created_at"`
	StartedAt   string     `json:"started_at,omitempty"`
	SettledAt   string     `json:"settled_at,omitempty"`
}

// Issue — замечание ревью.
type Issue struct {
	FilePath   string `json:"file_path"`
	Line       *int   `json:"line,omitempty"`
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Report — отчёт анализа.
type Report struct {
	RepoURL   string            `json:"repo_url"`
	PRNumber  int               `json:"pr_number"`
	HeadSHA   string            `json:"head_sha,omitempty"`
	Summary   string            `json:"summary"`
	Issues    []Issue           `json:"issues"`
	ModelInfo map[string]string `json:"model_info,omitempty"`
}

// BatchOutcome — результат одного элемента batch.
type BatchOutcome struct {
	Index    int        `json:"index"`
	RepoURL  string     `json:"repo_url"`
	PRNumber int        `json:"pr_number"`
	TaskID   string     `json:"task_id,omitempty"`
	Status   string     `json:"status"`
	Result   *Report    `json:"result,omitempty"`
	Error    *TaskError `json:"error,omitempty"`
}

// BatchResponse — результат batch-анализа.
type BatchResponse struct {
	BatchID    string         `json:"batch_id"`
	TotalPRs   int            `json:"total_prs"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	DurationMS int64          `json:"duration_ms"`
	Results    []BatchOutcome `json:"results"`
}

// --- Request types ---

// SubmitReviewRequest — постановка PR в работу.
type SubmitReviewRequest struct {
	RepoURL     string `json:"repo_url"`
	PRNumber    int    `json:"pr_number"`
	GitHubToken string `json:"github_token,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string     `json:"code"`
		Message string     `json:"message"`
		Details *TaskError `json:"details,omitempty"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	TaskError  *TaskError
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrResultNotReady — задача ещё выполняется (API ответил 202).
var ErrResultNotReady = errors.New("result not ready")

// --- Client ---

// Client — HTTP-клиент для prreview API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// batch держит соединение, пока не завершатся все элементы
			Timeout: 10 * time.Minute,
		},
	}
}

// --- Reviews ---

// SubmitReview ставит PR в работу и возвращает ID задачи.
func (c *Client) SubmitReview(ctx context.Context, req SubmitReviewRequest) (string, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	err := c.post(ctx, "/api/v1/reviews", req, &resp)
	return resp.TaskID, err
}

// SubmitBatch анализирует список PR и ждёт результатов.
func (c *Client) SubmitBatch(ctx context.Context, reqs []SubmitReviewRequest) (*BatchResponse, error) {
	var resp BatchResponse
	err := c.post(ctx, "/api/v1/reviews/batch", reqs, &resp)
	return &resp, err
}

// --- Tasks ---

// GetTask возвращает состояние задачи.
func (c *Client) GetTask(ctx context.Context, id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get(ctx, "/api/v1/tasks/"+id, &task)
	return &task, err
}

// GetResult возвращает отчёт задачи.
// ErrResultNotReady — задача ещё выполняется; неудача задачи — *APIError с TaskError.
func (c *Client) GetResult(ctx context.Context, id string) (*Report, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id+"/result", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil, ErrResultNotReady
	}

	var report Report
	if err := decodeData(resp.Body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CancelTask отменяет задачу и возвращает её статус.
func (c *Client) CancelTask(ctx context.Context, id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(ctx, "/api/v1/tasks/"+id+"/cancel", nil, &task)
	return &task, err
}

// WaitTask опрашивает задачу, пока она не завершится или не истечёт ctx.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*TaskResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *TaskResponse
	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		if task.ResultReady {
			return task, nil
		}
		last = task

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	return decodeData(resp.Body, result)
}

func decodeData(r io.Reader, result any) error {
	var dr dataResponse
	if err := json.NewDecoder(r).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
		apiErr.TaskError = er.Error.Details
	}
	return apiErr
}
