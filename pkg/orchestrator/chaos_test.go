package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/envhealthd/envhealthd/pkg/chaos"
)

type fakeChaosRunner struct {
	report chaos.Report
	err    error
	levels []chaos.Level
}

func (f *fakeChaosRunner) Run(_ context.Context, level chaos.Level) (chaos.Report, error) {
	f.levels = append(f.levels, level)
	return f.report, f.err
}

func TestRunChaosRecordsResults(t *testing.T) {
	evaluator := &fakeEvaluator{defs: testDefinitions("docker")}
	runner := newTestRunner(t, testConfig(), evaluator, &fakeHealer{enabled: true}, &fakeLockManager{})

	harness := &fakeChaosRunner{report: chaos.Report{
		Level:    chaos.LevelMedium,
		TestsRun: 2,
		Passed:   2,
		Details: []chaos.TestResult{
			{Name: "kill-dns", Passed: true, Recovered: true},
			{Name: "fill-disk", Passed: true, Recovered: true},
		},
	}}
	runner.SetChaosHarness(harness)

	report, err := runner.RunChaos(context.Background(), chaos.LevelMedium)
	if err != nil {
		t.Fatalf("RunChaos returned error: %v", err)
	}
	if report.TestsRun != 2 || report.Passed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(harness.levels) != 1 || harness.levels[0] != chaos.LevelMedium {
		t.Fatalf("expected the harness to run at medium, got %+v", harness.levels)
	}

	snapshot := runner.State().Snapshot()
	if snapshot.ChaosTestsRun != 2 {
		t.Fatalf("expected 2 chaos tests in state, got %d", snapshot.ChaosTestsRun)
	}
}

func TestRunChaosBlockedByKillSwitch(t *testing.T) {
	evaluator := &fakeEvaluator{defs: testDefinitions("docker")}
	runner := newTestRunner(t, testConfig(), evaluator, &fakeHealer{enabled: true}, &fakeLockManager{},
		WithKillSwitchChecker(func(string) (bool, error) { return true, nil }))

	harness := &fakeChaosRunner{}
	runner.SetChaosHarness(harness)

	if _, err := runner.RunChaos(context.Background(), chaos.LevelLow); err == nil {
		t.Fatalf("expected the kill switch to block chaos runs")
	}
	if len(harness.levels) != 0 {
		t.Fatalf("expected no harness invocations, got %d", len(harness.levels))
	}
}

func TestRunChaosWithoutHarness(t *testing.T) {
	evaluator := &fakeEvaluator{defs: testDefinitions("docker")}
	runner := newTestRunner(t, testConfig(), evaluator, &fakeHealer{enabled: true}, &fakeLockManager{})

	if _, err := runner.RunChaos(context.Background(), chaos.LevelLow); err == nil {
		t.Fatalf("expected an error without a configured harness")
	}
}

func TestRunChaosPropagatesHarnessErrors(t *testing.T) {
	evaluator := &fakeEvaluator{defs: testDefinitions("docker")}
	runner := newTestRunner(t, testConfig(), evaluator, &fakeHealer{enabled: true}, &fakeLockManager{})
	runner.SetChaosHarness(&fakeChaosRunner{err: errors.New("harness misconfigured")})

	if _, err := runner.RunChaos(context.Background(), chaos.LevelHigh); err == nil {
		t.Fatalf("expected harness errors to propagate")
	}

	if runner.State().Snapshot().ChaosTestsRun != 0 {
		t.Fatalf("expected no chaos results recorded after an error")
	}
}
