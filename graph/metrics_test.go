package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsFromEngine(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)

	engine := newEngine(t, store.NewMemStore[chat](), graph.WithMetrics(metrics))
	_ = engine.Add("a", ask("a", "A?", graph.Stop()))
	_ = engine.StartAt("a")

	_, _ = engine.Step(context.Background(), "t", nil)
	_, _ = engine.Step(context.Background(), "t", ptr("ok"))

	count, err := testutil.GatherAndCount(registry, "coachgraph_suspensions_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("suspension series = %d, want 1", count)
	}
	if n, _ := testutil.GatherAndCount(registry, "coachgraph_stage_latency_ms"); n != 2 {
		t.Errorf("stage latency series = %d, want 2 (suspended and success)", n)
	}
}

func TestPrometheusMetricsFromInvoker(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)

	inv, err := graph.NewInvoker(graph.RetryPolicy{MaxAttempts: 3},
		graph.WithSleep(noSleep),
		graph.WithInvokerMetrics(metrics),
	)
	if err != nil {
		t.Fatal(err)
	}
	var calls int32
	_, _ = graph.Invoke(context.Background(), inv, "focus", scripted(nil, nil, &calls), nonEmpty)

	if n, _ := testutil.GatherAndCount(registry, "coachgraph_retries_exhausted_total"); n != 1 {
		t.Errorf("exhausted series = %d, want 1", n)
	}
	// Two retries follow the first failed attempt.
	if n, _ := testutil.GatherAndCount(registry, "coachgraph_retries_total"); n != 1 {
		t.Errorf("retries series = %d, want 1", n)
	}
}

func TestPrometheusMetricsDisable(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)

	metrics.Disable()
	metrics.IncrementForced("mood_check")
	metrics.RecordModelLatency("gpt-4o", time.Second)
	if n, _ := testutil.GatherAndCount(registry, "coachgraph_forced_resolutions_total"); n != 0 {
		t.Errorf("disabled metrics recorded %d series", n)
	}

	metrics.Enable()
	metrics.IncrementForced("mood_check")
	if n, _ := testutil.GatherAndCount(registry, "coachgraph_forced_resolutions_total"); n != 1 {
		t.Errorf("enabled metrics recorded %d series, want 1", n)
	}
	metrics.Reset()
}
