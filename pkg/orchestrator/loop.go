package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/envhealthd/envhealthd/pkg/config"
)

// SinglePassRunner is the slice of Runner the loop needs.
type SinglePassRunner interface {
	RunOnce(ctx context.Context) (Outcome, error)
}

// errorBackoff doubles the delay after consecutive failed passes, starting
// at min and saturating at max. A successful pass resets it.
type errorBackoff struct {
	min, max time.Duration
	current  time.Duration
}

func (b *errorBackoff) next() time.Duration {
	if b.min <= 0 {
		return 0
	}
	switch {
	case b.current <= 0:
		b.current = b.min
	default:
		b.current *= 2
	}
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *errorBackoff) reset() { b.current = 0 }

// Loop runs monitoring passes forever. Pass errors never terminate it;
// only context cancellation does.
type Loop struct {
	cfg           *config.Config
	runner        SinglePassRunner
	interval      time.Duration
	sleep         func(time.Duration)
	iterationHook func(Outcome)
	errorHandler  func(error)
	backoff       errorBackoff
}

// LoopOption customises loop behaviour.
type LoopOption func(*Loop)

// WithLoopSleepFunc overrides the sleep implementation between iterations.
func WithLoopSleepFunc(fn func(time.Duration)) LoopOption {
	return func(l *Loop) { l.sleep = fn }
}

// WithLoopIterationHook registers a callback invoked after each successful iteration.
func WithLoopIterationHook(fn func(Outcome)) LoopOption {
	return func(l *Loop) { l.iterationHook = fn }
}

// WithLoopInterval forces a custom interval between iterations, overriding the configuration value.
func WithLoopInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.interval = d }
}

// WithLoopErrorHandler registers a callback for retryable orchestration errors.
func WithLoopErrorHandler(fn func(error)) LoopOption {
	return func(l *Loop) { l.errorHandler = fn }
}

// WithLoopErrorBackoff overrides the retry backoff window applied after errors.
func WithLoopErrorBackoff(min, max time.Duration) LoopOption {
	return func(l *Loop) {
		l.backoff.min = min
		l.backoff.max = max
	}
}

// NewLoop constructs a Loop backed by the provided runner.
func NewLoop(cfg *config.Config, runner SinglePassRunner, opts ...LoopOption) (*Loop, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}

	loop := &Loop{
		cfg:      cfg,
		runner:   runner,
		interval: cfg.CheckInterval(),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(loop)
	}

	if loop.sleep == nil {
		loop.sleep = time.Sleep
	}
	if loop.interval <= 0 {
		loop.interval = cfg.CheckInterval()
	}
	if loop.interval <= 0 {
		loop.interval = time.Minute
	}
	if loop.backoff.min <= 0 {
		loop.backoff.min = 2 * loop.interval
	}
	if loop.backoff.max < loop.backoff.min {
		loop.backoff.max = loop.backoff.min
	}
	return loop, nil
}

// Run executes monitoring passes until ctx is cancelled, which is the only
// way it returns. Cancellation is honoured at the top of each iteration
// and while sleeping; an in-flight pass is never interrupted.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := l.runner.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			if l.errorHandler != nil {
				l.errorHandler(err)
			}
			if pauseErr := l.pause(ctx, l.backoff.next()); pauseErr != nil {
				return pauseErr
			}
			continue
		}

		l.backoff.reset()
		if l.iterationHook != nil {
			l.iterationHook(outcome)
		}
		if err := l.pause(ctx, l.interval); err != nil {
			return err
		}
	}
}

// pause sleeps for d unless the context finishes first. The injected sleep
// function runs in its own goroutine so cancellation is not delayed by it.
func (l *Loop) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	slept := make(chan struct{})
	go func() {
		l.sleep(d)
		close(slept)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-slept:
		return nil
	}
}
