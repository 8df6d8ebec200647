package orchestrator

import (
	"context"
	"errors"
	"time"
)

type fleetPublishingRunner interface {
	FleetPublishingEnabled() bool
	PublishFleetReport(context.Context) error
}

// FleetPublisher drives a lightweight loop that periodically refreshes the
// fleet health record for the local node.
//
// It executes alongside the main monitoring loop so peers observe fresh
// scores even when no healing iteration is in progress.
// fleetPublishingRunner is intentionally minimal so tests can provide fakes.
type FleetPublisher struct {
	runner       fleetPublishingRunner
	interval     time.Duration
	sleep        func(time.Duration)
	errorHandler func(error)
}

// FleetPublisherOption customises the behaviour of the publishing loop.
type FleetPublisherOption func(*FleetPublisher)

// WithFleetPublisherSleepFunc overrides the sleep implementation between
// report publications.
func WithFleetPublisherSleepFunc(fn func(time.Duration)) FleetPublisherOption {
	return func(p *FleetPublisher) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithFleetPublisherErrorHandler registers a callback for publication errors.
func WithFleetPublisherErrorHandler(fn func(error)) FleetPublisherOption {
	return func(p *FleetPublisher) {
		p.errorHandler = fn
	}
}

// NewFleetPublisher constructs a background publishing loop.
func NewFleetPublisher(runner fleetPublishingRunner, interval time.Duration, opts ...FleetPublisherOption) (*FleetPublisher, error) {
	if runner == nil {
		return nil, errors.New("fleet publisher requires a runner")
	}
	if interval <= 0 {
		return nil, errors.New("fleet publish interval must be greater than zero")
	}

	publisher := &FleetPublisher{
		runner:   runner,
		interval: interval,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(publisher)
	}
	if publisher.sleep == nil {
		publisher.sleep = time.Sleep
	}
	return publisher, nil
}

// Run executes the publishing loop until the context is cancelled.
func (p *FleetPublisher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !p.runner.FleetPublishingEnabled() {
			if err := p.sleepWithContext(ctx, p.interval); err != nil {
				return err
			}
			continue
		}

		if err := p.runner.PublishFleetReport(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if p.errorHandler != nil {
				p.errorHandler(err)
			}
		}

		if err := p.sleepWithContext(ctx, p.interval); err != nil {
			return err
		}
	}
}

func (p *FleetPublisher) sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
