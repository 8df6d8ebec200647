package observability

import (
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prometheusNamespace = "envhealthd"

// PrometheusCollector translates Metric events into Prometheus metrics
// registered on a dedicated registry. Vectors are created lazily on the
// first observation of a metric name; later observations with a different
// label set are dropped rather than panicking the exporter.
type PrometheusCollector struct {
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]counterEntry
	gauges     map[string]gaugeEntry
	histograms map[string]histogramEntry
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type gaugeEntry struct {
	vec    *prometheus.GaugeVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// NewPrometheusCollector builds a collector backed by a fresh registry.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]counterEntry),
		gauges:     make(map[string]gaugeEntry),
		histograms: make(map[string]histogramEntry),
	}
}

// Registry returns the underlying registry for use with HTTP handlers.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler exposes the registry as an http.Handler for the metrics endpoint.
func (c *PrometheusCollector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Collect implements MetricsCollector.
func (c *PrometheusCollector) Collect(metric Metric) {
	if metric.Name == "" {
		return
	}
	switch metric.Type {
	case MetricCounter:
		c.addCounter(metric)
	case MetricGauge:
		c.setGauge(metric)
	case MetricHistogram:
		c.observeHistogram(metric)
	}
}

func (c *PrometheusCollector) addCounter(metric Metric) {
	value := metric.Value
	if value < 0 {
		value = 0
	}
	labels, names := splitLabels(metric.Labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counters[metric.Name]
	if !ok {
		entry = counterEntry{
			vec: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Name:      metric.Name,
				Help:      helpText(metric),
			}, names),
			labels: names,
		}
		if c.registry.Register(entry.vec) != nil {
			return
		}
		c.counters[metric.Name] = entry
	}
	if !slices.Equal(entry.labels, names) {
		return
	}
	entry.vec.With(labels).Add(value)
}

func (c *PrometheusCollector) setGauge(metric Metric) {
	labels, names := splitLabels(metric.Labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.gauges[metric.Name]
	if !ok {
		entry = gaugeEntry{
			vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: prometheusNamespace,
				Name:      metric.Name,
				Help:      helpText(metric),
			}, names),
			labels: names,
		}
		if c.registry.Register(entry.vec) != nil {
			return
		}
		c.gauges[metric.Name] = entry
	}
	if !slices.Equal(entry.labels, names) {
		return
	}
	entry.vec.With(labels).Set(metric.Value)
}

func (c *PrometheusCollector) observeHistogram(metric Metric) {
	labels, names := splitLabels(metric.Labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.histograms[metric.Name]
	if !ok {
		opts := prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Name:      metric.Name,
			Help:      helpText(metric),
		}
		if metric.Unit != "" {
			opts.ConstLabels = map[string]string{"unit": metric.Unit}
		}
		entry = histogramEntry{vec: prometheus.NewHistogramVec(opts, names), labels: names}
		if c.registry.Register(entry.vec) != nil {
			return
		}
		c.histograms[metric.Name] = entry
	}
	if !slices.Equal(entry.labels, names) {
		return
	}
	entry.vec.With(labels).Observe(metric.Value)
}

// splitLabels copies the label map and returns it with its sorted key set,
// the shape Prometheus vectors want.
func splitLabels(in map[string]string) (prometheus.Labels, []string) {
	if len(in) == 0 {
		return nil, nil
	}
	labels := prometheus.Labels(maps.Clone(in))
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	slices.Sort(names)
	return labels, names
}

func helpText(metric Metric) string {
	if strings.TrimSpace(metric.Description) != "" {
		return metric.Description
	}
	if metric.Unit != "" {
		return metric.Name + " (" + metric.Unit + ")"
	}
	return metric.Name
}
