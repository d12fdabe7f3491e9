package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы Submit для prreview_tasks_submitted_total.
const (
	OutcomeCreated      = "created"
	OutcomeDeduplicated = "deduplicated"
	OutcomeCached       = "cached"
	OutcomeFailed       = "failed"
)

// Типы внешних вызовов для prreview_external_call_duration_seconds.
const (
	CallGitHubHead  = "github_head"
	CallGitHubFetch = "github_fetch"
	CallAnalyze     = "analyze"
	CallArchive     = "archive"
)

// Metrics — Prometheus метрики prreview.
//
// Все методы безопасны для nil-получателя: компоненты, созданные без метрик
// (например, в тестах), просто ничего не записывают.
type Metrics struct {
	submitted    *prometheus.CounterVec
	settled      *prometheus.CounterVec
	inflight     prometheus.Gauge
	queueDepth   prometheus.Gauge
	taskDuration prometheus.Histogram
	callDuration *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	batchItems   prometheus.Histogram
}

// NewMetrics создаёт и регистрирует метрики в reg.
// reg == nil — prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prreview_tasks_submitted_total",
			Help: "Review submissions by outcome.",
		}, []string{"outcome"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prreview_tasks_settled_total",
			Help: "Tasks that reached a terminal status, by status and error kind.",
		}, []string{"status", "kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prreview_inflight_tasks",
			Help: "Fingerprints with an in-flight analysis in this process.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prreview_backend_queue_depth",
			Help: "Jobs waiting for a free executor.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prreview_task_duration_seconds",
			Help:    "Time from RUNNING to a terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prreview_external_call_duration_seconds",
			Help:    "Duration of calls to GitHub, the analysis backend and the archive.",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prreview_cache_requests_total",
			Help: "Result cache lookups by result.",
		}, []string{"result"}),
		batchItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prreview_batch_items",
			Help:    "Items per batch request.",
			Buckets: []float64{1, 2, 3, 5, 10, 20},
		}),
	}

	reg.MustRegister(
		m.submitted,
		m.settled,
		m.inflight,
		m.queueDepth,
		m.taskDuration,
		m.callDuration,
		m.cacheLookups,
		m.batchItems,
	)

	return m
}

// Submitted учитывает исход Submit.
func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(outcome).Inc()
}

// Settled учитывает терминальный переход задачи. kind пустой для SUCCEEDED.
func (m *Metrics) Settled(status, kind string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(status, kind).Inc()
}

// SetInflight выставляет количество in-flight fingerprint'ов.
func (m *Metrics) SetInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

// SetQueueDepth выставляет глубину очереди backend'а.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveTask записывает длительность выполнения задачи.
func (m *Metrics) ObserveTask(d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(d.Seconds())
}

// ObserveCall записывает длительность внешнего вызова.
func (m *Metrics) ObserveCall(call string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(call).Observe(d.Seconds())
}

// CacheLookup учитывает попадание или промах кэша.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveBatch записывает размер batch.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.batchItems.Observe(float64(n))
}
