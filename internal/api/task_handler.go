package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/prreview/internal/domain"
)

// GetTask возвращает состояние задачи.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	task, err := h.reviewer.GetTaskState(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(task))
}

// GetTaskResult возвращает отчёт задачи.
// GET /api/v1/tasks/{id}/result
//
//   - SUCCEEDED → 200 с отчётом
//   - PENDING / RUNNING → 202
//   - FAILED → 422 с причиной
func (h *Handler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	task, err := h.reviewer.GetTaskState(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "task not found") {
		return
	}

	switch task.Status {
	case domain.TaskStatusSucceeded:
		Success(w, task.Result)
	case domain.TaskStatusFailed:
		TaskFailed(w, task.Error)
	default:
		Accepted(w, ResultPendingResponse{
			TaskID:  task.ID,
			Status:  task.Status,
			Message: "result not ready",
		})
	}
}

// CancelTask отменяет задачу.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	task, err := h.reviewer.Cancel(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, CancelResponse{TaskID: task.ID, Status: task.Status})
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
