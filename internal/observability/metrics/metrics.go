package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for consultation pipeline runs.
type PipelineMetrics struct {
	stageDuration  *prometheus.HistogramVec
	stageTotal     *prometheus.CounterVec
	repairTotal    *prometheus.CounterVec
	retryTotal     *prometheus.CounterVec
	reviewAttempts prometheus.Histogram
	queueDepth     prometheus.Gauge
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ippo",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"stage"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ippo",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Pipeline stage executions by outcome",
		}, []string{"stage", "status"}),
		repairTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ippo",
			Subsystem: "generation",
			Name:      "json_repair_total",
			Help:      "JSON repair pass invocations by outcome; a rising rate signals prompt or model drift",
		}, []string{"outcome"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ippo",
			Subsystem: "generation",
			Name:      "retry_total",
			Help:      "Generation retries by cause",
		}, []string{"cause"}),
		reviewAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ippo",
			Subsystem: "pipeline",
			Name:      "review_attempts",
			Help:      "Write/review loop attempts used per report",
			Buckets:   []float64{1, 2, 3},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ippo",
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Pipeline runs currently holding a concurrency slot",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stageDuration, m.stageTotal, m.repairTotal, m.retryTotal, m.reviewAttempts, m.queueDepth)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
	m.stageTotal.WithLabelValues(stage, status).Inc()
}

// ObserveRepair counts one repair-pass invocation. Outcome is "repaired" when
// the patched text parsed, "failed" when it did not.
func (m *PipelineMetrics) ObserveRepair(outcome string) {
	if m == nil {
		return
	}
	m.repairTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveRetry(cause string) {
	if m == nil {
		return
	}
	m.retryTotal.WithLabelValues(cause).Inc()
}

func (m *PipelineMetrics) ObserveReviewAttempts(attempts int) {
	if m == nil {
		return
	}
	m.reviewAttempts.Observe(float64(attempts))
}

func (m *PipelineMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *PipelineMetrics) RunFinished() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}
