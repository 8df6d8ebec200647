package healing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/envhealthd/envhealthd/pkg/issue"
)

// CommandRunner executes a remediation command.
type CommandRunner interface {
	Run(ctx context.Context, command []string) error
}

// ExecCommandRunner shells out to the configured command using os/exec.
type ExecCommandRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    map[string]string
}

// NewExecCommandRunner constructs an ExecCommandRunner with optional output
// writers and extra environment. When stdout or stderr are nil, the process
// inherits os.Stdout/os.Stderr.
func NewExecCommandRunner(stdout, stderr io.Writer, env map[string]string) *ExecCommandRunner {
	return &ExecCommandRunner{Stdout: stdout, Stderr: stderr, Env: env}
}

// Run executes the provided command, streaming stdout/stderr to the
// configured writers.
func (r *ExecCommandRunner) Run(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return errors.New("remediation command is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if r != nil {
		if r.Stdout != nil {
			cmd.Stdout = r.Stdout
		}
		if r.Stderr != nil {
			cmd.Stderr = r.Stderr
		}
		if len(r.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range r.Env {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
			}
		}
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run remediation %q: %w", strings.Join(command, " "), err)
	}
	return nil
}

var _ CommandRunner = (*ExecCommandRunner)(nil)

// Executor maps issues to registered actions and runs them one at a time.
type Executor struct {
	actions map[string]Action
	runner  CommandRunner
	enabled bool
	nowFunc func() time.Time
}

// ExecutorOption customises executor construction.
type ExecutorOption func(*Executor)

// WithRunner overrides the command runner, primarily for tests.
func WithRunner(runner CommandRunner) ExecutorOption {
	return func(e *Executor) {
		e.runner = runner
	}
}

// WithTimeSource overrides the executor clock.
func WithTimeSource(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.nowFunc = now
	}
}

// NewExecutor constructs an executor over the registered actions. The enabled
// flag mirrors the global auto_fix switch; when false, Execute is a no-op.
func NewExecutor(actions []Action, enabled bool, opts ...ExecutorOption) (*Executor, error) {
	executor := &Executor{
		actions: make(map[string]Action, len(actions)),
		runner:  NewExecCommandRunner(nil, nil, nil),
		enabled: enabled,
		nowFunc: time.Now,
	}
	for _, action := range actions {
		if _, exists := executor.actions[action.IssueType]; exists {
			return nil, fmt.Errorf("healing action for %q registered twice", action.IssueType)
		}
		executor.actions[action.IssueType] = action
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor, nil
}

// Enabled reports whether remediation commands will actually run.
func (e *Executor) Enabled() bool {
	return e.enabled
}

// Lookup returns the action registered for an issue type.
func (e *Executor) Lookup(issueType string) (Action, bool) {
	action, ok := e.actions[issueType]
	return action, ok
}

// Execute runs the registered action for each issue in order. Issues without
// a registered action are skipped and recorded as such. A failing action does
// not stop the pass and is never retried. When healing is disabled the
// returned summary is all zeros and no command runs. The only error returned
// is context cancellation.
func (e *Executor) Execute(ctx context.Context, issues []issue.Issue) (Summary, error) {
	var summary Summary
	if !e.enabled {
		return summary, nil
	}

	for _, item := range issues {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		action, ok := e.actions[item.Type]
		if !ok {
			summary.Skipped = append(summary.Skipped, item.Type)
			continue
		}

		result := e.runAction(ctx, action, item)
		summary.Attempted++
		if result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.Actions = append(summary.Actions, result)
	}
	return summary, nil
}

func (e *Executor) runAction(ctx context.Context, action Action, item issue.Issue) ActionResult {
	runCtx := ctx
	cancel := func() {}
	if action.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, action.Timeout)
	}
	defer cancel()

	started := e.nowFunc()
	err := e.runner.Run(runCtx, action.Command)
	result := ActionResult{
		IssueType: action.IssueType,
		Check:     item.CheckName,
		Success:   err == nil,
		Duration:  e.nowFunc().Sub(started),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("timed out after %s", action.Timeout)
		} else {
			result.Error = err.Error()
		}
	}
	return result
}
