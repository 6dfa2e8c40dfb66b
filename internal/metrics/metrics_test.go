package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCallSettledIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CallStarted()
	m.CallSettled("add", "ok", 0.01)

	got := gatherCounter(t, reg, "workerproc_calls_total", map[string]string{"method": "add", "outcome": "ok"})
	if got != 1 {
		t.Fatalf("got %v calls, want 1", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.CallStarted()
	m.CallSettled("add", "ok", 0.01)
	m.RetryAttempted("add")
	m.TimedOut("add")
	m.WorkerCrashed()
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && lp.GetValue() != want {
			return false
		}
	}
	return true
}
