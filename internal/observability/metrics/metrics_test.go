package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestObserveRepairCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveRepair("repaired")
	m.ObserveRepair("repaired")
	m.ObserveRepair("failed")

	mf := gather(t, reg, "ippo_generation_json_repair_total")
	if mf == nil {
		t.Fatal("repair metric not registered")
	}
	var total float64
	for _, metric := range mf.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("expected 3 repair observations, got %v", total)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveStage("translator", "success", 1.2)
	m.ObserveRepair("repaired")
	m.ObserveRetry("rate_limit")
	m.ObserveReviewAttempts(3)
	m.RunStarted()
	m.RunFinished()
}

func TestRunGaugeTracksActiveRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RunStarted()
	m.RunStarted()
	m.RunFinished()

	mf := gather(t, reg, "ippo_pipeline_active_runs")
	if mf == nil {
		t.Fatal("gauge not registered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("expected gauge 1, got %v", got)
	}
}
