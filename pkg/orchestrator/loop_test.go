package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedRunner struct {
	outcomes []Outcome
	errs     []error
	calls    int
	cancel   context.CancelFunc
	stopAt   int
}

func (s *scriptedRunner) RunOnce(context.Context) (Outcome, error) {
	index := s.calls
	s.calls++
	if s.cancel != nil && s.calls >= s.stopAt {
		s.cancel()
	}
	var outcome Outcome
	if index < len(s.outcomes) {
		outcome = s.outcomes[index]
	}
	var err error
	if index < len(s.errs) {
		err = s.errs[index]
	}
	return outcome, err
}

func TestLoopRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{
		outcomes: []Outcome{{Status: OutcomeHealthy}, {Status: OutcomeHealthy}, {Status: OutcomeHealthy}},
		cancel:   cancel,
		stopAt:   3,
	}

	var iterations []Outcome
	loop, err := NewLoop(testConfig(), runner,
		WithLoopSleepFunc(noSleep),
		WithLoopIterationHook(func(outcome Outcome) { iterations = append(iterations, outcome) }))
	if err != nil {
		t.Fatalf("NewLoop returned error: %v", err)
	}

	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if runner.calls < 3 {
		t.Fatalf("expected at least 3 iterations, got %d", runner.calls)
	}
	if len(iterations) < 3 {
		t.Fatalf("expected the iteration hook to fire, got %d calls", len(iterations))
	}
}

func TestLoopBacksOffAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{
		errs:   []error{errors.New("etcd unavailable"), errors.New("etcd unavailable"), nil},
		cancel: cancel,
		stopAt: 3,
	}

	var sleeps []time.Duration
	var handled []error
	loop, err := NewLoop(testConfig(), runner,
		WithLoopSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }),
		WithLoopErrorHandler(func(err error) { handled = append(handled, err) }))
	if err != nil {
		t.Fatalf("NewLoop returned error: %v", err)
	}

	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(handled) != 2 {
		t.Fatalf("expected 2 handled errors, got %d", len(handled))
	}
	if len(sleeps) < 2 {
		t.Fatalf("expected backoff sleeps, got %d", len(sleeps))
	}
	interval := testConfig().CheckInterval()
	if sleeps[0] != 2*interval {
		t.Fatalf("expected first error backoff of %s, got %s", 2*interval, sleeps[0])
	}
}

func TestLoopStopsOnCancellationError(t *testing.T) {
	runner := &scriptedRunner{errs: []error{context.Canceled}}

	loop, err := NewLoop(testConfig(), runner, WithLoopSleepFunc(noSleep))
	if err != nil {
		t.Fatalf("NewLoop returned error: %v", err)
	}

	if err := loop.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to stop the loop, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected a single iteration, got %d", runner.calls)
	}
}

func TestLoopValidatesInputs(t *testing.T) {
	if _, err := NewLoop(nil, &scriptedRunner{}); err == nil {
		t.Fatalf("expected an error for nil config")
	}
	if _, err := NewLoop(testConfig(), nil); err == nil {
		t.Fatalf("expected an error for nil runner")
	}
}
