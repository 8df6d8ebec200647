// Package issue derives discrete problems and a weighted health score from
// check results.
package issue

import (
	"fmt"
	"time"

	"github.com/envhealthd/envhealthd/pkg/check"
)

// Issue is a derived problem requiring attention. Its Type is the key used
// to look up a healing action.
type Issue struct {
	Type       string         `json:"type"`
	Severity   check.Priority `json:"severity"`
	CheckName  string         `json:"check"`
	Message    string         `json:"message,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

// Derive converts check results into issues. It is a pure function of its
// input: results are walked in order, a failed check yields one issue named
// after the check, and every warning yields one medium-severity issue
// regardless of the parent check's priority.
func Derive(results []check.Result, now time.Time) []Issue {
	var issues []Issue
	for _, result := range results {
		if !result.Healthy() {
			message := result.Outcome.Error
			if message == "" {
				message = fmt.Sprintf("check %s reported unhealthy", result.Name)
			}
			issues = append(issues, Issue{
				Type:       result.Name + "_failed",
				Severity:   result.Priority,
				CheckName:  result.Name,
				Message:    message,
				DetectedAt: now,
			})
		}
		for _, warning := range result.Outcome.Warnings {
			issues = append(issues, Issue{
				Type:       warning.Type,
				Severity:   check.PriorityMedium,
				CheckName:  result.Name,
				Message:    warning.Message,
				DetectedAt: now,
			})
		}
	}
	return issues
}
