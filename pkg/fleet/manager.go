// Package fleet shares per-node health scores so operators can see the state
// of every development environment in one place.
package fleet

import (
	"context"
	"time"
)

// Report is the local node's view of its own health for one cycle.
type Report struct {
	Score   int
	Healthy bool
	Issues  int
	RunID   string
}

// Record is the persisted health state for a node in the fleet.
type Record struct {
	Node       string
	Score      int
	Healthy    bool
	Issues     int
	RunID      string
	ReportedAt time.Time
}

// Manager exposes the fleet-level score sharing contract. Implementations
// persist the local node's report so other nodes and dashboards can read it.
type Manager interface {
	// Publish stores the local node's latest report.
	Publish(ctx context.Context, report Report) error
	// Status returns the last published records for all nodes. Callers must
	// treat the returned slice as read-only.
	Status(ctx context.Context) ([]Record, error)
	// Close releases underlying resources. Safe to call multiple times.
	Close() error
}

// NoopManager discards reports and returns an empty fleet. Used when fleet
// sharing is disabled.
type NoopManager struct{}

// NewNoopManager constructs a manager without any backing store.
func NewNoopManager() *NoopManager {
	return &NoopManager{}
}

// Publish implements Manager.
func (m *NoopManager) Publish(ctx context.Context, report Report) error {
	return ctx.Err()
}

// Status implements Manager.
func (m *NoopManager) Status(ctx context.Context) ([]Record, error) {
	return nil, ctx.Err()
}

// Close implements Manager.
func (m *NoopManager) Close() error { return nil }

var _ Manager = (*NoopManager)(nil)
