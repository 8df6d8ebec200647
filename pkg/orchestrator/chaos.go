package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/envhealthd/envhealthd/pkg/chaos"
	"github.com/envhealthd/envhealthd/pkg/observability"
)

// ChaosRunner abstracts the chaos harness for orchestration.
type ChaosRunner interface {
	Run(ctx context.Context, level chaos.Level) (chaos.Report, error)
}

// SetChaosHarness installs the resilience test harness.
func (r *Runner) SetChaosHarness(harness ChaosRunner) {
	r.chaosHarness = harness
}

// RunChaos executes the resilience harness at the given level and folds the
// results into the environment state. The kill switch blocks chaos runs the
// same way it blocks healing.
func (r *Runner) RunChaos(ctx context.Context, level chaos.Level) (chaos.Report, error) {
	if r.chaosHarness == nil {
		return chaos.Report{}, errors.New("chaos harness is not configured")
	}

	killActive, checkErr := r.checkKill(r.killSwitchPath)
	r.recordKillSwitch(ctx, "chaos", killActive, checkErr)
	if checkErr != nil {
		return chaos.Report{}, fmt.Errorf("check kill switch: %w", checkErr)
	}
	if killActive {
		return chaos.Report{}, fmt.Errorf("kill switch %s present, refusing to run chaos tests", r.killSwitchPath)
	}

	report, err := r.chaosHarness.Run(ctx, level)
	if err != nil {
		return report, err
	}

	r.state.RecordChaos(report)
	r.recordChaosReport(ctx, report)
	return report, nil
}

func (r *Runner) recordChaosReport(ctx context.Context, report chaos.Report) {
	level := observability.LevelInfo
	if report.Failed > 0 {
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "chaos_tests_total",
		Type:        observability.MetricCounter,
		Value:       float64(report.Passed),
		Labels:      map[string]string{"result": "passed"},
		Description: "Number of chaos tests grouped by result.",
	})
	if report.Failed > 0 {
		r.reporter.RecordMetric(observability.Metric{
			Name:   "chaos_tests_total",
			Type:   observability.MetricCounter,
			Value:  float64(report.Failed),
			Labels: map[string]string{"result": "failed"},
		})
	}

	r.reporter.RecordEvent(ctx, observability.Event{
		Level: level,
		Node:  r.cfg.NodeName,
		Event: "chaos_completed",
		Fields: map[string]interface{}{
			"level":     string(report.Level),
			"tests_run": report.TestsRun,
			"passed":    report.Passed,
			"failed":    report.Failed,
		},
	})
}
