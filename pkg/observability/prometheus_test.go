package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusCollectorCounter(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{
		Name:        "checks_total",
		Type:        MetricCounter,
		Value:       2,
		Labels:      map[string]string{"condition": "disk", "result": "unhealthy"},
		Description: "Number of condition checks",
	})
	collector.Collect(Metric{
		Name:   "checks_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"condition": "disk", "result": "unhealthy"},
	})

	mfs, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	metric := findMetric(t, mfs, "health_agent_checks_total")
	if len(metric.Metric) != 1 {
		t.Fatalf("expected single metric sample, got %d", len(metric.Metric))
	}
	if got := metric.Metric[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected counter value 3, got %v", got)
	}
	if labels := metric.Metric[0].GetLabel(); len(labels) != 2 {
		t.Fatalf("unexpected labels: %+v", labels)
	}
}

func TestPrometheusCollectorGaugeKeepsLatestValue(t *testing.T) {
	collector := NewPrometheusCollector()
	for _, v := range []float64{2048, 1024} {
		collector.Collect(Metric{
			Name:   "disk_free_bytes",
			Type:   MetricGauge,
			Value:  v,
			Labels: map[string]string{"path": "/"},
			Unit:   "bytes",
		})
	}

	mfs, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	metric := findMetric(t, mfs, "health_agent_disk_free_bytes")
	if got := metric.Metric[0].GetGauge().GetValue(); got != 1024 {
		t.Fatalf("expected gauge value 1024, got %v", got)
	}
}

func TestPrometheusCollectorHistogram(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{
		Name:   "check_seconds",
		Type:   MetricHistogram,
		Value:  1.5,
		Labels: map[string]string{"condition": "service"},
		Unit:   "seconds",
	})
	collector.Collect(Metric{
		Name:   "check_seconds",
		Type:   MetricHistogram,
		Value:  2.5,
		Labels: map[string]string{"condition": "service"},
	})

	mfs, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	metric := findMetric(t, mfs, "health_agent_check_seconds")
	sample := metric.Metric[0].GetHistogram()
	if got := sample.GetSampleCount(); got != 2 {
		t.Fatalf("expected sample count 2, got %v", got)
	}
	if got := sample.GetSampleSum(); got < 4.0 || got > 4.1 {
		t.Fatalf("expected sum close to 4.0, got %v", got)
	}
}

func TestPrometheusCollectorIgnoresMismatchedLabels(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{
		Name:   "notifications_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"result": "delivered"},
	})
	collector.Collect(Metric{
		Name:   "notifications_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"result": "delivered", "node": "web-1"},
	})

	mfs, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	metric := findMetric(t, mfs, "health_agent_notifications_total")
	if got := metric.Metric[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1 after ignoring mismatched labels, got %v", got)
	}
}

func TestPrometheusCollectorWriteTextfile(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{
		Name:   "run_outcomes_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"status": "healthy"},
	})

	path := filepath.Join(t.TempDir(), "health_agent.prom")
	if err := collector.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `health_agent_run_outcomes_total{status="healthy"} 1`) {
		t.Fatalf("unexpected textfile contents:\n%s", data)
	}
}

func TestPrometheusCollectorWriteTextfileRequiresPath(t *testing.T) {
	if err := NewPrometheusCollector().WriteTextfile(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// findMetric searches metric families by name.
func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}
