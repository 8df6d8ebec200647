// Package cooldown spaces healing passes so a flapping check cannot trigger
// remediation storms.
package cooldown

import (
	"context"
	"time"
)

// Status describes the currently active cooldown window, if any.
type Status struct {
	Active    bool
	Node      string
	RunID     string
	StartedAt time.Time
	ExpiresAt time.Time
	Remaining time.Duration
}

// Manager coordinates observation and activation of healing cooldown windows.
type Manager interface {
	// Status returns the current cooldown information. If no cooldown is
	// active the returned Status has Active set to false.
	Status(ctx context.Context) (Status, error)
	// Start activates a new cooldown window lasting the provided duration,
	// replacing any existing window. RunID ties the window to the healing
	// pass that opened it.
	Start(ctx context.Context, duration time.Duration, runID string) error
	// Close releases underlying resources. Safe to call multiple times.
	Close() error
}

// NoopManager reports no cooldown and ignores Start. Used when etcd
// coordination is disabled.
type NoopManager struct{}

// NewNoopManager constructs a manager without any backing store.
func NewNoopManager() *NoopManager {
	return &NoopManager{}
}

// Status implements Manager.
func (m *NoopManager) Status(ctx context.Context) (Status, error) {
	return Status{}, ctx.Err()
}

// Start implements Manager.
func (m *NoopManager) Start(ctx context.Context, duration time.Duration, runID string) error {
	return ctx.Err()
}

// Close implements Manager.
func (m *NoopManager) Close() error { return nil }

var _ Manager = (*NoopManager)(nil)
