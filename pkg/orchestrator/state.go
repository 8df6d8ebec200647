package orchestrator

import (
	"sync"
	"time"

	"github.com/envhealthd/envhealthd/pkg/chaos"
	"github.com/envhealthd/envhealthd/pkg/healing"
	"github.com/envhealthd/envhealthd/pkg/issue"
)

// historyLimit bounds the per-category histories kept in memory so a
// long-running daemon does not grow without bound.
const historyLimit = 100

// Snapshot is a point-in-time copy of the environment state.
type Snapshot struct {
	UptimeStart   time.Time              `json:"uptime_start"`
	LastCheckTime time.Time              `json:"last_check_time"`
	HealthScore   int                    `json:"health_score"`
	Healthy       bool                   `json:"healthy"`
	Cycles        int                    `json:"cycles"`
	OpenIssues    []issue.Issue          `json:"open_issues,omitempty"`
	FixesApplied  int                    `json:"fixes_applied"`
	ChaosTestsRun int                    `json:"chaos_tests_run"`
	RecentFixes   []healing.ActionResult `json:"recent_fixes,omitempty"`
	RecentChaos   []chaos.TestResult     `json:"recent_chaos,omitempty"`
}

// EnvironmentState tracks the health of the local environment across cycles.
// It is owned by the orchestrator and safe for concurrent readers such as the
// fleet publisher.
type EnvironmentState struct {
	mu            sync.Mutex
	uptimeStart   time.Time
	lastCheckTime time.Time
	healthScore   int
	healthy       bool
	cycles        int
	openIssues    []issue.Issue
	fixesApplied  int
	chaosTestsRun int
	recentFixes   []healing.ActionResult
	recentChaos   []chaos.TestResult
}

// NewEnvironmentState constructs state anchored at the given start time.
func NewEnvironmentState(start time.Time) *EnvironmentState {
	return &EnvironmentState{uptimeStart: start}
}

// RecordCycle stores the outcome of one check pass.
func (s *EnvironmentState) RecordCycle(at time.Time, score int, issues []issue.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCheckTime = at
	s.healthScore = score
	s.healthy = len(issues) == 0
	s.cycles++
	s.openIssues = append([]issue.Issue(nil), issues...)
}

// RecordHealing folds a healing pass into the running totals.
func (s *EnvironmentState) RecordHealing(summary healing.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fixesApplied += summary.Successful
	s.recentFixes = append(s.recentFixes, summary.Actions...)
	if overflow := len(s.recentFixes) - historyLimit; overflow > 0 {
		s.recentFixes = append([]healing.ActionResult(nil), s.recentFixes[overflow:]...)
	}
}

// RecordChaos folds a chaos run into the running totals.
func (s *EnvironmentState) RecordChaos(report chaos.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chaosTestsRun += report.TestsRun
	s.recentChaos = append(s.recentChaos, report.Details...)
	if overflow := len(s.recentChaos) - historyLimit; overflow > 0 {
		s.recentChaos = append([]chaos.TestResult(nil), s.recentChaos[overflow:]...)
	}
}

// Snapshot returns a copy of the current state.
func (s *EnvironmentState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		UptimeStart:   s.uptimeStart,
		LastCheckTime: s.lastCheckTime,
		HealthScore:   s.healthScore,
		Healthy:       s.healthy,
		Cycles:        s.cycles,
		OpenIssues:    append([]issue.Issue(nil), s.openIssues...),
		FixesApplied:  s.fixesApplied,
		ChaosTestsRun: s.chaosTestsRun,
		RecentFixes:   append([]healing.ActionResult(nil), s.recentFixes...),
		RecentChaos:   append([]chaos.TestResult(nil), s.recentChaos...),
	}
}
