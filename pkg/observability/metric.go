package observability

// MetricType identifies the aggregation semantics of a measurement.
type MetricType string

const (
	// MetricCounter accumulates monotonically increasing values.
	MetricCounter MetricType = "counter"
	// MetricGauge tracks a value that can move up and down.
	MetricGauge MetricType = "gauge"
	// MetricHistogram records observations into distribution buckets.
	MetricHistogram MetricType = "histogram"
)

// Metric models a single measurement emitted by the monitor components.
type Metric struct {
	Name        string
	Type        MetricType
	Value       float64
	Labels      map[string]string
	Description string
	Unit        string
}

// MetricsCollector consumes measurements for aggregation or export.
type MetricsCollector interface {
	Collect(Metric)
}

// MetricsCollectorFunc adapts a function into a MetricsCollector.
type MetricsCollectorFunc func(Metric)

// Collect implements MetricsCollector.
func (f MetricsCollectorFunc) Collect(metric Metric) {
	if f != nil {
		f(metric)
	}
}

// NoopMetricsCollector discards all measurements.
type NoopMetricsCollector struct{}

// Collect implements MetricsCollector.
func (NoopMetricsCollector) Collect(Metric) {}

var _ MetricsCollector = MetricsCollectorFunc(nil)
var _ MetricsCollector = NoopMetricsCollector{}
