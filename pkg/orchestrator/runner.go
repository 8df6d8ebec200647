// Package orchestrator drives the check, heal, and chaos flows and owns the
// environment state shared between them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/envhealthd/envhealthd/pkg/check"
	"github.com/envhealthd/envhealthd/pkg/config"
	"github.com/envhealthd/envhealthd/pkg/cooldown"
	"github.com/envhealthd/envhealthd/pkg/fleet"
	"github.com/envhealthd/envhealthd/pkg/healing"
	"github.com/envhealthd/envhealthd/pkg/issue"
	"github.com/envhealthd/envhealthd/pkg/lock"
	"github.com/envhealthd/envhealthd/pkg/observability"
	"github.com/envhealthd/envhealthd/pkg/windows"
)

// CheckEvaluator abstracts the check engine for orchestration.
type CheckEvaluator interface {
	Run(ctx context.Context, target string) ([]check.Result, error)
	Definitions() []check.Definition
	Has(name string) bool
}

// HealingExecutor captures the healing execution contract.
type HealingExecutor interface {
	Enabled() bool
	Execute(ctx context.Context, issues []issue.Issue) (healing.Summary, error)
}

// OutcomeStatus represents the final decision of a single orchestration pass.
type OutcomeStatus string

const (
	OutcomeHealthy         OutcomeStatus = "healthy"
	OutcomeKillSwitch      OutcomeStatus = "kill_switch_active"
	OutcomeUnknownTarget   OutcomeStatus = "unknown_target"
	OutcomeHealingDisabled OutcomeStatus = "healing_disabled"
	OutcomeWindowDenied    OutcomeStatus = "window_denied"
	OutcomeWindowOutside   OutcomeStatus = "window_outside_allow"
	OutcomeCooldownActive  OutcomeStatus = "cooldown_active"
	OutcomeLockUnavailable OutcomeStatus = "lock_unavailable"
	OutcomeLockSkipped     OutcomeStatus = "lock_skipped"
	OutcomeRecheckCleared  OutcomeStatus = "recheck_cleared"
	OutcomeHealed          OutcomeStatus = "healed"
	OutcomeHealingFailed   OutcomeStatus = "healing_failed"
)

// Outcome summarises the steps performed during RunOnce.
type Outcome struct {
	Status          OutcomeStatus
	Message         string
	RunID           string
	Score           int
	Results         []check.Result
	PostLockResults []check.Result
	Issues          []issue.Issue
	Healing         *healing.Summary
	LockAcquired    bool
}

// Runner executes the monitoring orchestration logic once per cycle.
type Runner struct {
	cfg            *config.Config
	checks         CheckEvaluator
	healer         HealingExecutor
	locker         lock.Manager
	cooldowns      cooldown.Manager
	fleets         fleet.Manager
	windows        *windows.Evaluator
	state          *EnvironmentState
	target         string
	killSwitchPath string
	checkKill      func(string) (bool, error)
	sleep          func(time.Duration)
	rnd            *rand.Rand
	maxLockTries   int
	reporter       Reporter
	lockEnabled    bool
	lockSkipReason string
	chaosHarness   ChaosRunner
	newRunID       func() string
	now            func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithKillSwitchChecker overrides the function used to check the kill switch file.
func WithKillSwitchChecker(fn func(string) (bool, error)) Option {
	return func(r *Runner) {
		r.checkKill = fn
	}
}

// WithSleepFunc overrides the sleep function used for lock backoff.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

// WithRandSource injects a deterministic random source (useful for tests).
func WithRandSource(src rand.Source) Option {
	return func(r *Runner) {
		r.rnd = rand.New(src)
	}
}

// WithMaxLockAttempts configures how many times the runner retries lock acquisition.
func WithMaxLockAttempts(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxLockTries = n
		}
	}
}

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithTarget restricts check execution to a single named check instead of the
// full registry.
func WithTarget(target string) Option {
	return func(r *Runner) {
		trimmed := strings.TrimSpace(target)
		if trimmed != "" {
			r.target = trimmed
		}
	}
}

// WithLockAcquisition configures whether the runner should attempt to acquire
// the distributed healing lock. When disabled, the runner heals without
// coordination and annotates the outcome with the provided reason.
func WithLockAcquisition(enabled bool, reason string) Option {
	return func(r *Runner) {
		r.lockEnabled = enabled
		if !enabled {
			r.lockSkipReason = strings.TrimSpace(reason)
		} else {
			r.lockSkipReason = ""
		}
	}
}

// WithRunIDSource injects a deterministic run ID generator.
func WithRunIDSource(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newRunID = fn
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner with the provided dependencies. Cooldown and
// fleet managers may be nil when the corresponding coordination is disabled.
func NewRunner(cfg *config.Config, checks CheckEvaluator, healer HealingExecutor, locker lock.Manager, state *EnvironmentState, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if checks == nil {
		return nil, errors.New("check evaluator must not be nil")
	}
	if healer == nil {
		return nil, errors.New("healing executor must not be nil")
	}
	if locker == nil {
		return nil, errors.New("lock manager must not be nil")
	}
	if state == nil {
		state = NewEnvironmentState(time.Now())
	}

	runner := &Runner{
		cfg:            cfg,
		checks:         checks,
		healer:         healer,
		locker:         locker,
		cooldowns:      cooldown.NewNoopManager(),
		fleets:         fleet.NewNoopManager(),
		state:          state,
		target:         check.TargetAll,
		killSwitchPath: cfg.KillSwitchFile,
		checkKill:      defaultKillSwitchCheck,
		sleep:          time.Sleep,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		maxLockTries:   5,
		reporter:       NoopReporter{},
		lockEnabled:    cfg.Healing.Lock.Enabled,
		newRunID:       uuid.NewString,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.rnd == nil {
		runner.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if runner.sleep == nil {
		runner.sleep = time.Sleep
	}
	if runner.checkKill == nil {
		runner.checkKill = defaultKillSwitchCheck
	}
	if runner.maxLockTries <= 0 {
		runner.maxLockTries = 5
	}
	if runner.reporter == nil {
		runner.reporter = NoopReporter{}
	}

	windowsEval, err := windows.NewEvaluator(cfg.Healing.Windows.Allow, cfg.Healing.Windows.Deny)
	if err != nil {
		return nil, fmt.Errorf("parse healing windows: %w", err)
	}
	runner.windows = windowsEval

	return runner, nil
}

// SetCooldownManager installs the cooldown coordinator.
func (r *Runner) SetCooldownManager(manager cooldown.Manager) {
	if manager != nil {
		r.cooldowns = manager
	}
}

// SetFleetManager installs the fleet score publisher backend.
func (r *Runner) SetFleetManager(manager fleet.Manager) {
	if manager != nil {
		r.fleets = manager
	}
}

// State exposes the environment state for status rendering.
func (r *Runner) State() *EnvironmentState {
	return r.state
}

// RunOnce executes one monitoring cycle: run checks, derive issues, update
// state, and heal when allowed. Failures inside a phase degrade to a recorded
// status; the returned error is reserved for faults that should trigger the
// loop's backoff, such as a broken kill switch file or cancellation.
func (r *Runner) RunOnce(ctx context.Context) (out Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	out.RunID = r.newRunID()

	defer func() {
		if err == nil && out.Status != "" {
			r.recordOutcome(ctx, out)
		}
	}()

	killActive, checkErr := r.checkKill(r.killSwitchPath)
	r.recordKillSwitch(ctx, "pre-lock", killActive, checkErr)
	if checkErr != nil {
		return out, fmt.Errorf("check kill switch: %w", checkErr)
	}
	if killActive {
		out.Status = OutcomeKillSwitch
		out.Message = fmt.Sprintf("kill switch %s present", r.killSwitchPath)
		return out, nil
	}

	if r.target != check.TargetAll && !r.checks.Has(r.target) {
		out.Status = OutcomeUnknownTarget
		out.Message = fmt.Sprintf("check %q is not registered", r.target)
		return out, nil
	}

	results, runErr := r.runChecksWithObservability(ctx, "pre-lock", out.RunID)
	if runErr != nil {
		return out, fmt.Errorf("run checks: %w", runErr)
	}
	out.Results = results

	detectedAt := r.now()
	out.Issues = issue.Derive(results, detectedAt)
	out.Score = issue.Score(r.checks.Definitions(), results)
	r.state.RecordCycle(detectedAt, out.Score, out.Issues)
	r.recordScore(ctx, out.Score, len(out.Issues))

	if len(out.Issues) == 0 {
		out.Status = OutcomeHealthy
		out.Message = "all checks passed"
		return out, nil
	}

	if !r.healer.Enabled() {
		out.Status = OutcomeHealingDisabled
		out.Message = fmt.Sprintf("%d issue(s) found, healing disabled", len(out.Issues))
		return out, nil
	}

	decision := r.windows.Evaluate(r.now())
	r.recordWindowDecision(ctx, decision)
	if !decision.Allowed {
		if strings.Contains(decision.Reason, "deny") {
			out.Status = OutcomeWindowDenied
		} else {
			out.Status = OutcomeWindowOutside
		}
		out.Message = decision.Reason
		return out, nil
	}

	cooldownStatus, cooldownErr := r.cooldowns.Status(ctx)
	r.recordCooldown(ctx, cooldownStatus, cooldownErr)
	if cooldownErr != nil {
		return out, fmt.Errorf("query healing cooldown: %w", cooldownErr)
	}
	if cooldownStatus.Active {
		out.Status = OutcomeCooldownActive
		out.Message = fmt.Sprintf("healing cooldown active for %s (started by %s)", cooldownStatus.Remaining, cooldownStatus.Node)
		return out, nil
	}

	if !r.lockEnabled {
		reason := r.lockSkipReason
		if reason == "" {
			reason = "lock acquisition disabled"
		}
		r.reporter.RecordEvent(ctx, observability.Event{
			Level:  observability.LevelInfo,
			Node:   r.cfg.NodeName,
			Event:  "lock_skipped",
			Fields: map[string]interface{}{"reason": reason},
		})
		return r.heal(ctx, out, out.Issues)
	}

	meta := lock.Metadata{Node: r.cfg.NodeName, RunID: out.RunID, Issues: len(out.Issues)}
	lease, acquired, err := r.acquireLock(ctx, meta)
	if err != nil {
		return out, err
	}
	if !acquired {
		out.Status = OutcomeLockUnavailable
		out.Message = fmt.Sprintf("failed to acquire healing lock after %d attempts", r.maxLockTries)
		return out, nil
	}
	out.LockAcquired = true
	defer r.releaseLease(lease, &err)

	killActive, checkErr = r.checkKill(r.killSwitchPath)
	r.recordKillSwitch(ctx, "post-lock", killActive, checkErr)
	if checkErr != nil {
		return out, fmt.Errorf("check kill switch after lock: %w", checkErr)
	}
	if killActive {
		out.Status = OutcomeKillSwitch
		out.Message = fmt.Sprintf("kill switch %s present after lock", r.killSwitchPath)
		return out, nil
	}

	postResults, runErr := r.runChecksWithObservability(ctx, "post-lock", out.RunID)
	if runErr != nil {
		return out, fmt.Errorf("post-lock check run: %w", runErr)
	}
	out.PostLockResults = postResults

	postIssues := issue.Derive(postResults, r.now())
	if len(postIssues) == 0 {
		out.Status = OutcomeRecheckCleared
		out.Message = "issues cleared while waiting for the healing lock"
		return out, nil
	}

	return r.heal(ctx, out, postIssues)
}

// heal runs the healing executor and opens a cooldown window on completion.
func (r *Runner) heal(ctx context.Context, out Outcome, issues []issue.Issue) (Outcome, error) {
	start := r.now()
	summary, healErr := r.healer.Execute(ctx, issues)
	r.recordHealing(ctx, summary, r.now().Sub(start), healErr)
	if healErr != nil {
		return out, fmt.Errorf("execute healing: %w", healErr)
	}
	out.Healing = &summary
	r.state.RecordHealing(summary)

	if duration := r.cfg.HealingCooldown(); duration > 0 && summary.Attempted > 0 {
		if err := r.cooldowns.Start(ctx, duration, out.RunID); err != nil {
			r.reporter.RecordEvent(ctx, observability.Event{
				Level:  observability.LevelWarn,
				Node:   r.cfg.NodeName,
				Event:  "cooldown_start_failed",
				Fields: map[string]interface{}{"error": err.Error()},
			})
		}
	}

	if summary.Failed > 0 {
		out.Status = OutcomeHealingFailed
		out.Message = fmt.Sprintf("%d of %d healing action(s) failed", summary.Failed, summary.Attempted)
	} else {
		out.Status = OutcomeHealed
		out.Message = fmt.Sprintf("%d healing action(s) completed", summary.Successful)
	}
	return out, nil
}

// FleetPublishingEnabled reports whether fleet score sharing is configured.
func (r *Runner) FleetPublishingEnabled() bool {
	return r.cfg.Fleet.Enabled
}

// PublishFleetReport pushes the latest state snapshot to the fleet store.
func (r *Runner) PublishFleetReport(ctx context.Context) error {
	snapshot := r.state.Snapshot()
	return r.fleets.Publish(ctx, fleet.Report{
		Score:   snapshot.HealthScore,
		Healthy: snapshot.Healthy,
		Issues:  len(snapshot.OpenIssues),
	})
}

func (r *Runner) acquireLock(ctx context.Context, meta lock.Metadata) (lock.Lease, bool, error) {
	minBackoff, maxBackoff := r.cfg.LockBackoffBounds()
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}

	start := time.Now()

	for attempt := 0; attempt < r.maxLockTries; attempt++ {
		attemptStart := time.Now()
		lease, err := r.locker.Acquire(ctx, meta)
		duration := time.Since(attemptStart)

		switch {
		case err == nil:
			r.recordLockAttempt(ctx, attempt, duration, "success", nil)
			r.recordLockAcquired(ctx, attempt, time.Since(start))
			return lease, true, nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			r.recordLockAttempt(ctx, attempt, duration, "canceled", err)
			return nil, false, err
		case errors.Is(err, lock.ErrNotAcquired):
			r.recordLockAttempt(ctx, attempt, duration, "contended", err)
			if attempt == r.maxLockTries-1 {
				r.recordLockFailure(ctx, attempt+1)
				return nil, false, nil
			}
		default:
			r.recordLockAttempt(ctx, attempt, duration, "error", err)
			return nil, false, fmt.Errorf("acquire lock: %w", err)
		}

		delay := r.nextBackoffDelay(attempt, minBackoff, maxBackoff)
		r.recordLockBackoff(ctx, attempt, delay)
		if err := r.sleepWithContext(ctx, delay); err != nil {
			return nil, false, err
		}
	}
	r.recordLockFailure(ctx, r.maxLockTries)
	return nil, false, nil
}

func (r *Runner) nextBackoffDelay(attempt int, min, max time.Duration) time.Duration {
	multiplier := time.Duration(1 << attempt)
	if multiplier <= 0 {
		multiplier = 1
	}
	base := min * multiplier
	if base < min {
		base = min
	}
	if base > max {
		base = max
	}
	if base <= min {
		return min
	}
	jitterRange := base - min
	if jitterRange <= 0 {
		return base
	}
	jitter := time.Duration(r.rnd.Int63n(int64(jitterRange) + 1))
	return min + jitter
}

func (r *Runner) sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func defaultKillSwitchCheck(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Runner) runChecksWithObservability(ctx context.Context, phase, runID string) ([]check.Result, error) {
	start := time.Now()
	results, err := r.checks.Run(ctx, r.target)
	r.recordCheckRun(ctx, phase, runID, time.Since(start), results, err)
	return results, err
}

func (r *Runner) recordCheckRun(ctx context.Context, phase, runID string, duration time.Duration, results []check.Result, runErr error) {
	outcome := "healthy"
	level := observability.LevelInfo
	unhealthy := 0
	for _, result := range results {
		if !result.Healthy() {
			unhealthy++
		}
	}
	fields := map[string]interface{}{
		"phase":       phase,
		"run_id":      runID,
		"target":      r.target,
		"duration_ms": duration.Milliseconds(),
		"checks":      len(results),
		"unhealthy":   unhealthy,
		"summaries":   summariseCheckResults(results),
	}

	if runErr != nil {
		outcome = "error"
		level = observability.LevelError
		fields["error"] = runErr.Error()
	} else if unhealthy > 0 {
		outcome = "degraded"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "check_runs_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"phase": phase, "result": outcome},
		Description: "Number of check engine runs grouped by phase and result.",
	})
	for _, result := range results {
		status := string(result.Outcome.Status)
		r.reporter.RecordMetric(observability.Metric{
			Name:        "check_duration_seconds",
			Type:        observability.MetricHistogram,
			Value:       result.Outcome.Duration.Seconds(),
			Labels:      map[string]string{"check": result.Name, "result": status},
			Description: "Latency of individual check executions.",
			Unit:        "seconds",
		})
	}

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "checks_executed",
		Fields: fields,
	})
}

func summariseCheckResults(results []check.Result) []map[string]interface{} {
	summaries := make([]map[string]interface{}, 0, len(results))
	for _, result := range results {
		summary := map[string]interface{}{
			"name":        result.Name,
			"status":      string(result.Outcome.Status),
			"attempts":    result.Attempts,
			"duration_ms": result.Outcome.Duration.Milliseconds(),
		}
		if result.Outcome.Error != "" {
			summary["error"] = result.Outcome.Error
		}
		if len(result.Outcome.Warnings) > 0 {
			summary["warnings"] = len(result.Outcome.Warnings)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (r *Runner) recordScore(ctx context.Context, score, issues int) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "health_score",
		Type:        observability.MetricGauge,
		Value:       float64(score),
		Description: "Current weighted health score of the environment.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "issues_detected",
		Type:        observability.MetricGauge,
		Value:       float64(issues),
		Description: "Number of open issues derived from the latest check run.",
	})

	level := observability.LevelInfo
	if issues > 0 {
		level = observability.LevelWarn
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: level,
		Node:  r.cfg.NodeName,
		Event: "score_updated",
		Fields: map[string]interface{}{
			"score":  score,
			"issues": issues,
		},
	})
}

func (r *Runner) recordWindowDecision(ctx context.Context, decision windows.Decision) {
	result := "allowed"
	level := observability.LevelInfo
	if !decision.Allowed {
		result = "blocked"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "window_evaluations_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of healing window evaluations grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: level,
		Node:  r.cfg.NodeName,
		Event: "healing_window",
		Fields: map[string]interface{}{
			"allowed": decision.Allowed,
			"reason":  decision.Reason,
		},
	})
}

func (r *Runner) recordCooldown(ctx context.Context, status cooldown.Status, queryErr error) {
	result := "inactive"
	level := observability.LevelInfo
	fields := map[string]interface{}{"active": status.Active}

	if queryErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = queryErr.Error()
	} else if status.Active {
		result = "active"
		level = observability.LevelWarn
		fields["node"] = status.Node
		fields["remaining_ms"] = status.Remaining.Milliseconds()
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "cooldown_checks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of cooldown evaluations grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "healing_cooldown",
		Fields: fields,
	})
}

func (r *Runner) recordKillSwitch(ctx context.Context, stage string, active bool, checkErr error) {
	result := "inactive"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"stage":  stage,
		"active": active,
	}

	if checkErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = checkErr.Error()
	} else if active {
		result = "active"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "kill_switch_checks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"stage": stage, "result": result},
		Description: "Kill switch file checks by pipeline stage and result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "kill_switch",
		Fields: fields,
	})
}

func (r *Runner) recordHealing(ctx context.Context, summary healing.Summary, duration time.Duration, healErr error) {
	result := "success"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"attempted":   summary.Attempted,
		"successful":  summary.Successful,
		"failed":      summary.Failed,
		"skipped":     len(summary.Skipped),
		"duration_ms": duration.Milliseconds(),
	}

	if healErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = healErr.Error()
	} else if summary.Failed > 0 {
		result = "partial"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "healing_passes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of healing passes grouped by result.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "healing_actions_total",
		Type:        observability.MetricCounter,
		Value:       float64(summary.Successful),
		Labels:      map[string]string{"result": "success"},
		Description: "Number of healing actions grouped by result.",
	})
	if summary.Failed > 0 {
		r.reporter.RecordMetric(observability.Metric{
			Name:   "healing_actions_total",
			Type:   observability.MetricCounter,
			Value:  float64(summary.Failed),
			Labels: map[string]string{"result": "failure"},
		})
	}

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "healing_executed",
		Fields: fields,
	})
}

func (r *Runner) recordLockAttempt(ctx context.Context, attempt int, duration time.Duration, result string, attemptErr error) {
	labels := map[string]string{"result": result}
	fields := map[string]interface{}{
		"attempt":     attempt + 1,
		"result":      result,
		"duration_ms": duration.Milliseconds(),
	}
	level := observability.LevelInfo

	switch result {
	case "contended":
		level = observability.LevelWarn
	case "error", "canceled":
		level = observability.LevelError
	}

	if attemptErr != nil {
		fields["error"] = attemptErr.Error()
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "lock_attempts_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      labels,
		Description: "Number of healing lock acquisition attempts grouped by result.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "lock_acquire_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Labels:      labels,
		Description: "Latency of healing lock acquisition attempts.",
		Unit:        "seconds",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "lock_attempt",
		Fields: fields,
	})
}

func (r *Runner) recordLockBackoff(ctx context.Context, attempt int, delay time.Duration) {
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Node:  r.cfg.NodeName,
		Event: "lock_backoff",
		Fields: map[string]interface{}{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		},
	})
}

func (r *Runner) recordLockAcquired(ctx context.Context, attempt int, wait time.Duration) {
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Node:  r.cfg.NodeName,
		Event: "lock_acquired",
		Fields: map[string]interface{}{
			"attempt": attempt + 1,
			"wait_ms": wait.Milliseconds(),
		},
	})
}

func (r *Runner) recordLockFailure(ctx context.Context, attempts int) {
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelWarn,
		Node:  r.cfg.NodeName,
		Event: "lock_failed",
		Fields: map[string]interface{}{
			"attempts": attempts,
		},
	})
}

func (r *Runner) releaseLease(lease lock.Lease, errPtr *error) {
	if lease == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	releaseErr := lease.Release(releaseCtx)
	duration := time.Since(start)

	result := "success"
	level := observability.LevelInfo
	if releaseErr != nil {
		result = "error"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "lock_release_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Labels:      map[string]string{"result": result},
		Description: "Latency of healing lock releases.",
		Unit:        "seconds",
	})

	r.reporter.RecordEvent(context.Background(), observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "lock_released",
		Fields: map[string]interface{}{"result": result, "duration_ms": duration.Milliseconds()},
	})

	if releaseErr != nil && errPtr != nil && *errPtr == nil {
		*errPtr = fmt.Errorf("release lock: %w", releaseErr)
	}
}

func (r *Runner) recordOutcome(ctx context.Context, out Outcome) {
	if out.Status == "" {
		return
	}

	level := observability.LevelInfo
	switch out.Status {
	case OutcomeKillSwitch, OutcomeUnknownTarget, OutcomeHealingDisabled, OutcomeWindowDenied,
		OutcomeWindowOutside, OutcomeCooldownActive, OutcomeLockUnavailable, OutcomeHealingFailed:
		level = observability.LevelWarn
	}

	fields := map[string]interface{}{
		"status":        out.Status,
		"run_id":        out.RunID,
		"score":         out.Score,
		"issues":        len(out.Issues),
		"lock_acquired": out.LockAcquired,
	}
	if out.Message != "" {
		fields["message"] = out.Message
	}
	if out.Healing != nil {
		fields["healed"] = out.Healing.Successful
		fields["heal_failed"] = out.Healing.Failed
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "orchestration_outcomes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"status": string(out.Status)},
		Description: "Completed orchestration passes by outcome status.",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "run_outcome",
		Fields: fields,
	})
}
