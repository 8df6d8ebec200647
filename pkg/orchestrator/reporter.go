package orchestrator

import (
	"context"

	"github.com/envhealthd/envhealthd/pkg/observability"
)

// Reporter receives the events and metrics a runner emits during a pass.
type Reporter interface {
	RecordEvent(context.Context, observability.Event)
	RecordMetric(observability.Metric)
}

// NoopReporter discards everything. It is the default when no reporter is
// configured.
type NoopReporter struct{}

var _ Reporter = NoopReporter{}

func (NoopReporter) RecordEvent(context.Context, observability.Event) {}

func (NoopReporter) RecordMetric(observability.Metric) {}

// StructuredReporter routes events to a structured logger and metrics to a
// collector, stamping each event with the node name and component unless
// the emitter already set them.
type StructuredReporter struct {
	node    string
	logger  observability.Logger
	metrics observability.MetricsCollector
}

var _ Reporter = (*StructuredReporter)(nil)

// NewStructuredReporter builds the production reporter for a node.
func NewStructuredReporter(nodeName string, logger observability.Logger, metrics observability.MetricsCollector) *StructuredReporter {
	return &StructuredReporter{node: nodeName, logger: logger, metrics: metrics}
}

func (r *StructuredReporter) RecordEvent(ctx context.Context, event observability.Event) {
	if r == nil || r.logger == nil {
		return
	}
	enriched := event.Clone()
	if enriched.Node == "" {
		enriched.Node = r.node
	}
	if enriched.Component == "" {
		enriched.Component = "orchestrator"
	}
	_ = r.logger.Log(ctx, enriched)
}

func (r *StructuredReporter) RecordMetric(metric observability.Metric) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.Collect(metric)
}
