package perf

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/accessctl/internal/jobs"
	"github.com/odyssey-erp/accessctl/internal/rbac"
)

func TestRepairJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	store, _ := seedDirectory(500, 5)
	repairer := rbac.NewRepairer(store, nil, nil, rbac.RepairConfig{})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		tracker := metrics.Track("rbac_repair")
		_, err := repairer.Repair(ctx, rbac.RepairOptions{})
		if err := tracker.End(err); err != nil {
			t.Fatalf("unexpected repair error: %v", err)
		}
	}

	// Inject a failure to ensure the failure series is populated.
	tracker := metrics.Track("rbac_repair")
	if err := tracker.End(errors.New("lock lost")); err == nil {
		t.Fatal("expected error to propagate")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "accessctl_jobs_total", map[string]string{"job": "rbac_repair", "status": "success"})
	failure := metricValue(t, families, "accessctl_jobs_total", map[string]string{"job": "rbac_repair", "status": "failure"})
	if success != 20 || failure != 1 {
		t.Fatalf("unexpected run counts: success=%v failure=%v", success, failure)
	}

	mean := histogramMean(t, families, "accessctl_job_duration_seconds", map[string]string{"job": "rbac_repair"})
	if mean > 2.0 {
		t.Fatalf("repair duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
