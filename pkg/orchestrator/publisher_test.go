package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePublishingRunner struct {
	enabled bool
	err     error
	calls   int
	cancel  context.CancelFunc
	stopAt  int
}

func (f *fakePublishingRunner) FleetPublishingEnabled() bool { return f.enabled }

func (f *fakePublishingRunner) PublishFleetReport(context.Context) error {
	f.calls++
	if f.cancel != nil && f.calls >= f.stopAt {
		f.cancel()
	}
	return f.err
}

func TestFleetPublisherPublishesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakePublishingRunner{enabled: true, cancel: cancel, stopAt: 3}

	publisher, err := NewFleetPublisher(runner, time.Second, WithFleetPublisherSleepFunc(noSleep))
	if err != nil {
		t.Fatalf("NewFleetPublisher returned error: %v", err)
	}

	if err := publisher.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if runner.calls < 3 {
		t.Fatalf("expected at least 3 publications, got %d", runner.calls)
	}
}

func TestFleetPublisherSkipsWhenDisabled(t *testing.T) {
	runner := &fakePublishingRunner{enabled: false}

	ctx, cancel := context.WithCancel(context.Background())
	publisher, err := NewFleetPublisher(runner, time.Second,
		WithFleetPublisherSleepFunc(func(time.Duration) { cancel() }))
	if err != nil {
		t.Fatalf("NewFleetPublisher returned error: %v", err)
	}

	if err := publisher.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("expected no publications while disabled, got %d", runner.calls)
	}
}

func TestFleetPublisherReportsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakePublishingRunner{enabled: true, err: errors.New("etcd unavailable"), cancel: cancel, stopAt: 2}

	var handled []error
	publisher, err := NewFleetPublisher(runner, time.Second,
		WithFleetPublisherSleepFunc(noSleep),
		WithFleetPublisherErrorHandler(func(err error) { handled = append(handled, err) }))
	if err != nil {
		t.Fatalf("NewFleetPublisher returned error: %v", err)
	}

	if err := publisher.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(handled) == 0 {
		t.Fatalf("expected publish errors to reach the handler")
	}
}

func TestFleetPublisherValidatesInputs(t *testing.T) {
	if _, err := NewFleetPublisher(nil, time.Second); err == nil {
		t.Fatalf("expected an error for nil runner")
	}
	if _, err := NewFleetPublisher(&fakePublishingRunner{}, 0); err == nil {
		t.Fatalf("expected an error for a non-positive interval")
	}
}
