package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/prreview/internal/batch"
	"github.com/shaiso/prreview/internal/domain"
)

// Reviewer — операции ядра, которые выставляет API (review.Service).
type Reviewer interface {
	SubmitSingle(ctx context.Context, req domain.PRRequest) (uuid.UUID, error)
	GetTaskState(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	RunBatch(ctx context.Context, reqs []domain.PRRequest) (*batch.Result, error)
}

// HealthCheck — проверка одной зависимости (ping БД, соединение с RabbitMQ).
type HealthCheck func(ctx context.Context) error

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	reviewer    Reviewer
	checks      map[string]HealthCheck
	corsOrigins []string
	metrics     http.Handler
	httpMetrics *httpMetrics
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Reviewer Reviewer

	// HealthChecks — зависимости для /healthz по имени ("db", "mq").
	HealthChecks map[string]HealthCheck

	// CORSOrigins — разрешённые origins; пусто — CORS выключен.
	CORSOrigins []string

	// Registerer — куда регистрировать HTTP метрики (nil — не собирать).
	Registerer prometheus.Registerer

	// MetricsHandler — обработчик /metrics (nil — маршрут не регистрируется).
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		reviewer:    cfg.Reviewer,
		checks:      cfg.HealthChecks,
		corsOrigins: cfg.CORSOrigins,
		metrics:     cfg.MetricsHandler,
		logger:      logger,
	}
	if cfg.Registerer != nil {
		h.httpMetrics = newHTTPMetrics(cfg.Registerer)
	}
	return h
}
