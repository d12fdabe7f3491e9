package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/prreview/internal/domain"
)

// maxBodyBytes — ограничение тела запроса.
const maxBodyBytes = 1 << 20

// SubmitReview ставит PR в работу.
// POST /api/v1/reviews
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req SubmitReviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	taskID, err := h.reviewer.SubmitSingle(r.Context(), req.ToDomain())
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	Accepted(w, SubmitReviewResponse{TaskID: taskID})
}

// SubmitBatch анализирует список PR и отвечает, когда все элементы завершены.
// POST /api/v1/reviews/batch
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var items []SubmitReviewRequest
	if err := decodeBody(w, r, &items); err != nil {
		BadRequest(w, "invalid request body: expected a JSON array of reviews")
		return
	}

	reqs := make([]domain.PRRequest, len(items))
	for i, item := range items {
		reqs[i] = item.ToDomain()
	}

	result, err := h.reviewer.RunBatch(r.Context(), reqs)
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	Success(w, BatchFromResult(result))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}
