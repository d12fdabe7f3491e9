package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/prreview/internal/batch"
	"github.com/shaiso/prreview/internal/domain"
)

// Review DTOs

// SubmitReviewRequest — запрос на анализ PR.
type SubmitReviewRequest struct {
	RepoURL     string `json:"repo_url"`
	PRNumber    int    `json:"pr_number"`
	GitHubToken string `json:"github_token,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// ToDomain конвертирует запрос в domain.PRRequest.
func (r SubmitReviewRequest) ToDomain() domain.PRRequest {
	return domain.PRRequest{
		Repo:       r.RepoURL,
		Number:     r.PRNumber,
		Credential: r.GitHubToken,
		Force:      r.Force,
	}
}

// SubmitReviewResponse — ответ на постановку PR в работу.
type SubmitReviewResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// BatchResponse — результат batch-анализа.
type BatchResponse struct {
	BatchID    uuid.UUID       `json:"batch_id"`
	TotalPRs   int             `json:"total_prs"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	DurationMS int64           `json:"duration_ms"`
	Results    []batch.Outcome `json:"results"`
}

// BatchFromResult конвертирует batch.Result в BatchResponse.
func BatchFromResult(r *batch.Result) BatchResponse {
	return BatchResponse{
		BatchID:    r.ID,
		TotalPRs:   r.Summary.Total,
		Succeeded:  r.Summary.Succeeded,
		Failed:     r.Summary.Failed,
		DurationMS: r.Duration.Milliseconds(),
		Results:    r.Outcomes,
	}
}

// Task DTOs

// TaskResponse — состояние задачи (без отчёта).
type TaskResponse struct {
	TaskID      uuid.UUID         `json:"task_id"`
	Status      domain.TaskStatus `json:"status"`
	ResultReady bool              `json:"result_ready"`
	Error       *domain.TaskError `json:"error,omitempty"`
	Repo        string            `json:"repo"`
	PRNumber    int               `json:"pr_number"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	HeadSHA     string            `json:"head_sha,omitempty"`
	ResultRef   string            `json:"result_ref,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t *domain.Task) TaskResponse {
	return TaskResponse{
		TaskID:      t.ID,
		Status:      t.Status,
		ResultReady: t.IsFinished(),
		Error:       t.Error,
		Repo:        t.Repo,
		PRNumber:    t.PRNumber,
		Fingerprint: t.Fingerprint.String(),
		HeadSHA:     t.HeadSHA,
		ResultRef:   t.ResultRef,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		SettledAt:   t.SettledAt,
	}
}

// ResultPendingResponse — результат ещё не готов (202).
type ResultPendingResponse struct {
	TaskID  uuid.UUID         `json:"task_id"`
	Status  domain.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

// CancelResponse — состояние задачи после отмены.
type CancelResponse struct {
	TaskID uuid.UUID         `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}
