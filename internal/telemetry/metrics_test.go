package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Submitted(OutcomeCreated)
	m.Submitted(OutcomeCreated)
	m.Submitted(OutcomeCached)
	m.Settled("FAILED", "TIMEOUT")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.SetInflight(3)

	if got := testutil.ToFloat64(m.submitted.WithLabelValues(OutcomeCreated)); got != 2 {
		t.Errorf("expected 2 created, got %v", got)
	}
	if got := testutil.ToFloat64(m.settled.WithLabelValues("FAILED", "TIMEOUT")); got != 1 {
		t.Errorf("expected 1 settled timeout, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.inflight); got != 3 {
		t.Errorf("expected inflight 3, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.Submitted(OutcomeCreated)
	m.Settled("SUCCEEDED", "")
	m.SetInflight(1)
	m.SetQueueDepth(1)
	m.ObserveTask(time.Second)
	m.ObserveCall(CallAnalyze, time.Second)
	m.CacheLookup(true)
	m.ObserveBatch(3)
}
