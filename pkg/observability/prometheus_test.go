package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, c *PrometheusCollector, name string) *dto.MetricFamily {
	t.Helper()

	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found among %d families", name, len(mfs))
	return nil
}

func TestCollectorAccumulatesCounter(t *testing.T) {
	collector := NewPrometheusCollector()
	for _, value := range []float64{2, 1} {
		collector.Collect(Metric{
			Name:        "orchestration_outcomes_total",
			Type:        MetricCounter,
			Value:       value,
			Labels:      map[string]string{"status": "healthy"},
			Description: "Number of orchestrator outcomes",
		})
	}

	family := gatherFamily(t, collector, "envhealthd_orchestration_outcomes_total")
	if len(family.Metric) != 1 {
		t.Fatalf("expected one sample, got %d", len(family.Metric))
	}
	sample := family.Metric[0]
	if got := sample.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected counter 3, got %v", got)
	}
	if labels := sample.GetLabel(); len(labels) != 1 || labels[0].GetName() != "status" || labels[0].GetValue() != "healthy" {
		t.Fatalf("unexpected labels: %+v", labels)
	}
}

func TestCollectorGaugeHoldsLastValue(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{Name: "health_score", Type: MetricGauge, Value: 80, Description: "Current weighted health score"})
	collector.Collect(Metric{Name: "health_score", Type: MetricGauge, Value: 60})

	family := gatherFamily(t, collector, "envhealthd_health_score")
	if got := family.Metric[0].GetGauge().GetValue(); got != 60 {
		t.Fatalf("expected gauge 60, got %v", got)
	}
}

func TestCollectorHistogramTracksObservations(t *testing.T) {
	collector := NewPrometheusCollector()
	for _, value := range []float64{1.5, 2.5} {
		collector.Collect(Metric{
			Name:   "check_duration_seconds",
			Type:   MetricHistogram,
			Value:  value,
			Labels: map[string]string{"check": "docker", "result": "healthy"},
			Unit:   "seconds",
		})
	}

	family := gatherFamily(t, collector, "envhealthd_check_duration_seconds")
	sample := family.Metric[0]
	histogram := sample.GetHistogram()
	if histogram.GetSampleCount() != 2 {
		t.Fatalf("expected 2 observations, got %d", histogram.GetSampleCount())
	}
	if sum := histogram.GetSampleSum(); sum < 3.99 || sum > 4.01 {
		t.Fatalf("expected sum near 4.0, got %v", sum)
	}

	var unit string
	for _, label := range sample.GetLabel() {
		if label.GetName() == "unit" {
			unit = label.GetValue()
		}
	}
	if unit != "seconds" {
		t.Fatalf("expected unit const label, got labels %+v", sample.GetLabel())
	}
}

func TestCollectorDropsMismatchedLabelSets(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{
		Name:   "healing_attempts_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"result": "success"},
	})
	// Same name with an extra label would panic a raw vector; the
	// collector must drop it instead.
	collector.Collect(Metric{
		Name:   "healing_attempts_total",
		Type:   MetricCounter,
		Value:  1,
		Labels: map[string]string{"result": "success", "node": "dev-01"},
	})

	family := gatherFamily(t, collector, "envhealthd_healing_attempts_total")
	if len(family.Metric) != 1 {
		t.Fatalf("expected one sample after mismatch, got %d", len(family.Metric))
	}
	if got := family.Metric[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter 1 after dropping mismatch, got %v", got)
	}
}

func TestCollectorHandlerServesTextExposition(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.Collect(Metric{Name: "health_score", Type: MetricGauge, Value: 75})

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "envhealthd_health_score 75") {
		t.Fatalf("expected exposition to include health score, got: %s", recorder.Body.String())
	}
}
