package healing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/envhealthd/envhealthd/pkg/check"
	"github.com/envhealthd/envhealthd/pkg/config"
	"github.com/envhealthd/envhealthd/pkg/issue"
)

type fakeRunner struct {
	commands [][]string
	errs     map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, command []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.commands = append(r.commands, append([]string(nil), command...))
	if err, ok := r.errs[command[0]]; ok {
		return err
	}
	return nil
}

func issueOf(issueType string) issue.Issue {
	return issue.Issue{Type: issueType, Severity: check.PriorityHigh, CheckName: "db"}
}

func actionOf(issueType string, command ...string) Action {
	return Action{IssueType: issueType, Command: command}
}

func TestExecuteDisabledIsNoOp(t *testing.T) {
	runner := &fakeRunner{}
	executor, err := NewExecutor([]Action{actionOf("db_failed", "restart-db")}, false, WithRunner(runner))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	summary, err := executor.Execute(context.Background(), []issue.Issue{issueOf("db_failed")})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if summary.Attempted != 0 || summary.Successful != 0 || summary.Failed != 0 {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("expected no commands to run, got %v", runner.commands)
	}
}

func TestExecuteRunsActionsSequentially(t *testing.T) {
	runner := &fakeRunner{}
	executor, err := NewExecutor([]Action{
		actionOf("db_failed", "restart-db"),
		actionOf("docker_failed", "restart-docker"),
	}, true, WithRunner(runner))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	summary, err := executor.Execute(context.Background(), []issue.Issue{
		issueOf("docker_failed"),
		issueOf("db_failed"),
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if summary.Attempted != 2 || summary.Successful != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(runner.commands) != 2 {
		t.Fatalf("expected 2 commands, got %v", runner.commands)
	}
	if runner.commands[0][0] != "restart-docker" || runner.commands[1][0] != "restart-db" {
		t.Fatalf("expected issue order preserved, got %v", runner.commands)
	}
}

func TestExecuteSkipsUnknownIssueTypes(t *testing.T) {
	runner := &fakeRunner{}
	executor, err := NewExecutor([]Action{actionOf("db_failed", "restart-db")}, true, WithRunner(runner))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	summary, err := executor.Execute(context.Background(), []issue.Issue{
		issueOf("disk_high"),
		issueOf("db_failed"),
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if summary.Attempted != 1 {
		t.Fatalf("expected single attempt, got %+v", summary)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "disk_high" {
		t.Fatalf("expected disk_high to be skipped, got %v", summary.Skipped)
	}
}

func TestExecuteRecordsFailuresWithoutRetry(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"restart-db": errors.New("unit not found")}}
	executor, err := NewExecutor([]Action{
		actionOf("db_failed", "restart-db"),
		actionOf("docker_failed", "restart-docker"),
	}, true, WithRunner(runner))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	summary, err := executor.Execute(context.Background(), []issue.Issue{
		issueOf("db_failed"),
		issueOf("docker_failed"),
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if summary.Attempted != 2 || summary.Successful != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(runner.commands) != 2 {
		t.Fatalf("expected no retry, got %v", runner.commands)
	}
	if summary.Actions[0].Success || summary.Actions[0].Error == "" {
		t.Fatalf("expected first action to record failure, got %+v", summary.Actions[0])
	}
	if !summary.Actions[1].Success {
		t.Fatalf("expected failure not to stop the pass, got %+v", summary.Actions[1])
	}
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor, err := NewExecutor([]Action{actionOf("db_failed", "restart-db")}, true, WithRunner(&fakeRunner{}))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	if _, err := executor.Execute(ctx, []issue.Issue{issueOf("db_failed")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestNewExecutorRejectsDuplicateIssueTypes(t *testing.T) {
	_, err := NewExecutor([]Action{
		actionOf("db_failed", "restart-db"),
		actionOf("db_failed", "restart-db-again"),
	}, true)
	if err == nil {
		t.Fatal("expected duplicate actions to be rejected")
	}
}

func TestNewActions(t *testing.T) {
	actions, err := NewActions([]config.HealingActionConfig{
		{
			IssueType:            "db_failed",
			Description:          "restart the database",
			RiskLevel:            "medium",
			EstimatedDurationSec: 30,
			Cmd:                  []string{"systemctl", "restart", "postgresql"},
			TimeoutSec:           60,
		},
	})
	if err != nil {
		t.Fatalf("expected actions, got %v", err)
	}
	if actions[0].Timeout != 60*time.Second {
		t.Fatalf("unexpected timeout: %s", actions[0].Timeout)
	}
	if actions[0].EstimatedDuration != 30*time.Second {
		t.Fatalf("unexpected estimated duration: %s", actions[0].EstimatedDuration)
	}

	if _, err := NewActions([]config.HealingActionConfig{{IssueType: "x"}}); err == nil {
		t.Fatal("expected missing cmd to be rejected")
	}
}

func TestExecCommandRunnerRequiresCommand(t *testing.T) {
	runner := NewExecCommandRunner(nil, nil, nil)
	if err := runner.Run(context.Background(), nil); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}
