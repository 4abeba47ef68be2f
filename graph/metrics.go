package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides production-grade metrics for stage execution.
//
// Metrics exposed (all prefixed with "coachgraph_"):
//
// 1. inflight_steps (gauge): Step calls currently executing
// 2. stage_latency_ms (histogram): Stage execution duration by node and status
// 3. retries_total (counter): Model call retries by invocation label and reason
// 4. retries_exhausted_total (counter): Invocations that failed on every attempt
// 5. forced_resolutions_total (counter): Liveness-cap forced resolutions by stage
// 6. suspensions_total (counter): Suspensions by node
// 7. model_inference_duration_seconds (histogram): Model call latency by model
//
// Labels never include thread IDs, which would make cardinality unbounded.
//
// Example usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightSteps prometheus.Gauge

	stageLatency *prometheus.HistogramVec
	modelLatency *prometheus.HistogramVec

	retries     *prometheus.CounterVec
	exhausted   *prometheus.CounterVec
	forced      *prometheus.CounterVec
	suspensions *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with the provided registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
//
// Registering twice against the same registry panics, so create one
// PrometheusMetrics per registry.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightSteps = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "coachgraph",
		Name:      "inflight_steps",
		Help:      "Number of Step calls currently executing",
	})

	pm.stageLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coachgraph",
		Name:      "stage_latency_ms",
		Help:      "Stage execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"node_id", "status"}) // status: success, suspended, error

	pm.modelLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coachgraph",
		Name:      "model_inference_duration_seconds",
		Help:      "Time spent in a single model call",
		Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"model"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachgraph",
		Name:      "retries_total",
		Help:      "Model call retries by invocation label and reason",
	}, []string{"label", "reason"}) // reason: error, timeout, invalid

	pm.exhausted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachgraph",
		Name:      "retries_exhausted_total",
		Help:      "Invocations that failed on every allowed attempt",
	}, []string{"label"})

	pm.forced = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachgraph",
		Name:      "forced_resolutions_total",
		Help:      "Retry loops resolved by the interaction cap",
	}, []string{"stage"})

	pm.suspensions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachgraph",
		Name:      "suspensions_total",
		Help:      "Stage suspensions awaiting external input",
	}, []string{"node_id"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStageLatency records the duration of one stage execution.
func (pm *PrometheusMetrics) RecordStageLatency(nodeID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stageLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// RecordModelLatency records the duration of one model call.
func (pm *PrometheusMetrics) RecordModelLatency(model string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.modelLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// IncrementRetries increments the retry counter.
func (pm *PrometheusMetrics) IncrementRetries(label, reason string) {
	if !pm.on() {
		return
	}
	pm.retries.WithLabelValues(label, reason).Inc()
}

// IncrementExhausted counts an invocation that used up its attempts.
func (pm *PrometheusMetrics) IncrementExhausted(label string) {
	if !pm.on() {
		return
	}
	pm.exhausted.WithLabelValues(label).Inc()
}

// IncrementForced counts a forced resolution.
func (pm *PrometheusMetrics) IncrementForced(stage string) {
	if !pm.on() {
		return
	}
	pm.forced.WithLabelValues(stage).Inc()
}

// IncrementSuspensions counts a suspension.
func (pm *PrometheusMetrics) IncrementSuspensions(nodeID string) {
	if !pm.on() {
		return
	}
	pm.suspensions.WithLabelValues(nodeID).Inc()
}

func (pm *PrometheusMetrics) stepStarted() {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Inc()
}

func (pm *PrometheusMetrics) stepFinished() {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Dec()
}

// Disable temporarily disables metric collection.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric collection after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears gauge values. Counters and histograms are cumulative and
// are left alone.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightSteps.Set(0)
}
