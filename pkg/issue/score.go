package issue

import (
	"math"

	"github.com/envhealthd/envhealthd/pkg/check"
)

// Score computes the weighted health score in [0, 100]. Every registered
// check contributes its full weight to the denominator even when it did not
// run, so partial runs report a proportionally lower score. A healthy result
// earns full credit, an unhealthy result that still produced warnings earns
// half credit, and anything else earns nothing. An empty result set scores 0.
func Score(defs []check.Definition, results []check.Result) int {
	if len(results) == 0 {
		return 0
	}

	total := 0
	for _, def := range defs {
		total += 100 * def.Priority.Weight()
	}
	if total == 0 {
		return 0
	}

	earned := 0
	for _, result := range results {
		weight := result.Priority.Weight()
		switch {
		case result.Healthy():
			earned += 100 * weight
		case len(result.Outcome.Warnings) > 0:
			earned += 50 * weight
		}
	}

	score := int(math.Round(100 * float64(earned) / float64(total)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// VerifyRecovery reports whether the environment has recovered: every
// critical check must be present in the results and healthy. Missing
// critical results count as not recovered; non-critical checks are ignored.
func VerifyRecovery(defs []check.Definition, results []check.Result) bool {
	byName := make(map[string]check.Result, len(results))
	for _, result := range results {
		byName[result.Name] = result
	}

	for _, def := range defs {
		if def.Priority != check.PriorityCritical {
			continue
		}
		result, ok := byName[def.Name]
		if !ok || !result.Healthy() {
			return false
		}
	}
	return true
}
