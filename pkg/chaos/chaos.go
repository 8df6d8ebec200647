// Package chaos injects deliberate faults and verifies that critical checks
// recover once the fault is rolled back.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/envhealthd/envhealthd/pkg/check"
	"github.com/envhealthd/envhealthd/pkg/config"
	"github.com/envhealthd/envhealthd/pkg/issue"
)

// Level selects how many registered chaos tests run. Levels form an ordered
// prefix: the tests run at low are the first tests run at medium, and so on.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Count returns the number of registered tests the level selects.
func (l Level) Count() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 4
	default:
		return 0
	}
}

// ParseLevel converts a CLI or config string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch raw {
	case string(LevelLow), string(LevelMedium), string(LevelHigh):
		return Level(raw), nil
	default:
		return "", fmt.Errorf("unsupported chaos level %q", raw)
	}
}

// Test is a registered fault injection with a mandatory rollback.
type Test struct {
	Name        string
	Description string
	RiskLevel   string
	Inject      []string
	Rollback    []string
	Timeout     time.Duration
}

// NewTests builds chaos tests from configuration.
func NewTests(cfgs []config.ChaosTestConfig) ([]Test, error) {
	tests := make([]Test, 0, len(cfgs))
	for _, cfg := range cfgs {
		if len(cfg.InjectCmd) == 0 || len(cfg.RollbackCmd) == 0 {
			return nil, fmt.Errorf("chaos test %q requires inject_cmd and rollback_cmd", cfg.Name)
		}
		tests = append(tests, Test{
			Name:        cfg.Name,
			Description: cfg.Description,
			RiskLevel:   cfg.RiskLevel,
			Inject:      append([]string(nil), cfg.InjectCmd...),
			Rollback:    append([]string(nil), cfg.RollbackCmd...),
			Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		})
	}
	return tests, nil
}

// TestResult records one chaos test iteration.
type TestResult struct {
	Name          string        `json:"name"`
	Passed        bool          `json:"passed"`
	Recovered     bool          `json:"recovered"`
	InjectError   string        `json:"inject_error,omitempty"`
	RollbackError string        `json:"rollback_error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// Report aggregates a chaos run.
type Report struct {
	Level    Level        `json:"level"`
	TestsRun int          `json:"tests_run"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Details  []TestResult `json:"details,omitempty"`
}

// CommandRunner executes an inject or rollback command.
type CommandRunner interface {
	Run(ctx context.Context, command []string) error
}

// CheckRunner re-runs the health checks after a fault was injected.
// *check.Engine satisfies it.
type CheckRunner interface {
	Run(ctx context.Context, target string) ([]check.Result, error)
	Definitions() []check.Definition
}

// Observer is notified as the harness progresses. Implementations must not
// block.
type Observer interface {
	TestStarted(test Test)
	TestFinished(result TestResult)
}

// NoopObserver discards all notifications.
type NoopObserver struct{}

func (NoopObserver) TestStarted(Test)        {}
func (NoopObserver) TestFinished(TestResult) {}

// Harness runs chaos tests against the live environment.
type Harness struct {
	tests    []Test
	runner   CommandRunner
	checks   CheckRunner
	observer Observer
	settle   time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	nowFunc  func() time.Time
}

// HarnessOption customises harness construction.
type HarnessOption func(*Harness)

// WithSleepFunc overrides the settle sleep, primarily for tests.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) HarnessOption {
	return func(h *Harness) {
		h.sleep = sleep
	}
}

// WithTimeSource overrides the harness clock.
func WithTimeSource(now func() time.Time) HarnessOption {
	return func(h *Harness) {
		h.nowFunc = now
	}
}

// WithObserver installs a progress observer.
func WithObserver(observer Observer) HarnessOption {
	return func(h *Harness) {
		h.observer = observer
	}
}

// NewHarness constructs a harness. Settle is the fixed wait between injecting
// a fault and re-running the checks.
func NewHarness(tests []Test, runner CommandRunner, checks CheckRunner, settle time.Duration, opts ...HarnessOption) (*Harness, error) {
	if runner == nil {
		return nil, errors.New("chaos harness requires a command runner")
	}
	if checks == nil {
		return nil, errors.New("chaos harness requires a check runner")
	}
	harness := &Harness{
		tests:    append([]Test(nil), tests...),
		runner:   runner,
		checks:   checks,
		observer: NoopObserver{},
		settle:   settle,
		sleep:    sleepWithContext,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(harness)
	}
	return harness, nil
}

// Run executes the level's prefix of registered tests in order. Rollback is
// invoked exactly once per started test on every exit path, including
// injection failures and cancellation mid-test. The only error returned is
// context cancellation.
func (h *Harness) Run(ctx context.Context, level Level) (Report, error) {
	report := Report{Level: level}

	count := level.Count()
	if count == 0 {
		return report, fmt.Errorf("unsupported chaos level %q", level)
	}
	if count > len(h.tests) {
		count = len(h.tests)
	}

	for _, test := range h.tests[:count] {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := h.runOne(ctx, test)
		report.TestsRun++
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Details = append(report.Details, result)
	}
	return report, nil
}

// runOne executes a single test. The deferred rollback guarantees cleanup
// regardless of how the iteration exits.
func (h *Harness) runOne(ctx context.Context, test Test) (result TestResult) {
	h.observer.TestStarted(test)
	started := h.nowFunc()
	result = TestResult{Name: test.Name}

	defer func() {
		// Rollback must run even when the process is shutting down, so it
		// gets a fresh context bounded by the test timeout.
		rollbackCtx := context.Background()
		cancel := func() {}
		if test.Timeout > 0 {
			rollbackCtx, cancel = context.WithTimeout(rollbackCtx, test.Timeout)
		}
		if err := h.runner.Run(rollbackCtx, test.Rollback); err != nil {
			result.RollbackError = err.Error()
		}
		cancel()
		result.Duration = h.nowFunc().Sub(started)
		h.observer.TestFinished(result)
	}()

	injectCtx := ctx
	cancel := func() {}
	if test.Timeout > 0 {
		injectCtx, cancel = context.WithTimeout(ctx, test.Timeout)
	}
	err := h.runner.Run(injectCtx, test.Inject)
	cancel()
	if err != nil {
		result.InjectError = err.Error()
		return result
	}

	if err := h.sleep(ctx, h.settle); err != nil {
		return result
	}

	results, err := h.checks.Run(ctx, check.TargetAll)
	if err != nil {
		return result
	}

	result.Recovered = issue.VerifyRecovery(h.checks.Definitions(), results)
	result.Passed = result.Recovered
	return result
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
