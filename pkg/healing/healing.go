// Package healing maps derived issues to remediation commands and executes
// them sequentially.
package healing

import (
	"errors"
	"fmt"
	"time"

	"github.com/envhealthd/envhealthd/pkg/config"
)

// Action is a registered remediation, keyed by the issue type it fixes.
type Action struct {
	IssueType         string
	Description       string
	RiskLevel         string
	EstimatedDuration time.Duration
	Command           []string
	Timeout           time.Duration
}

// NewAction builds an action from configuration.
func NewAction(cfg config.HealingActionConfig) (Action, error) {
	if cfg.IssueType == "" {
		return Action{}, errors.New("healing action requires issue_type")
	}
	if len(cfg.Cmd) == 0 {
		return Action{}, fmt.Errorf("healing action for %q requires cmd", cfg.IssueType)
	}
	return Action{
		IssueType:         cfg.IssueType,
		Description:       cfg.Description,
		RiskLevel:         cfg.RiskLevel,
		EstimatedDuration: time.Duration(cfg.EstimatedDurationSec) * time.Second,
		Command:           append([]string(nil), cfg.Cmd...),
		Timeout:           time.Duration(cfg.TimeoutSec) * time.Second,
	}, nil
}

// NewActions builds all actions from configuration.
func NewActions(cfgs []config.HealingActionConfig) ([]Action, error) {
	actions := make([]Action, 0, len(cfgs))
	for _, cfg := range cfgs {
		action, err := NewAction(cfg)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// ActionResult records one remediation attempt.
type ActionResult struct {
	IssueType string        `json:"issue_type"`
	Check     string        `json:"check,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Summary aggregates a healing pass.
type Summary struct {
	Attempted  int            `json:"attempted"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Skipped    []string       `json:"skipped,omitempty"`
	Actions    []ActionResult `json:"actions,omitempty"`
}
