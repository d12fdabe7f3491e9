package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthTimeout — ограничение на одну проверку зависимости.
const healthTimeout = 2 * time.Second

// HealthResponse — статус процесса и зависимостей.
type HealthResponse struct {
	Status       string            `json:"status"` // ok | degraded
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
}

var startTime = time.Now()

// Health проверяет зависимости. Ответ всегда 200: деградация видна в теле.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Uptime:       time.Since(startTime).Truncate(time.Second).String(),
		Dependencies: make(map[string]string, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			resp.Dependencies[name] = "error: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	JSON(w, http.StatusOK, resp)
}
