package windows

import (
	"testing"
	"time"
)

// instant builds a time on a known weekday. 2024-01-01 is a Monday.
func instant(t *testing.T, day time.Weekday, hour, minute int) time.Time {
	t.Helper()
	base := time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
	for base.Weekday() != day {
		base = base.Add(24 * time.Hour)
	}
	return base
}

func TestParseRejectsMalformedSpecs(t *testing.T) {
	cases := []string{
		"",
		"Mon",
		"Mon 22:00",
		"Mon 25:00-26:00",
		"Mon 22:00-22:00",
		"Funday 22:00-23:00",
		"Mon-Funday 22:00-23:00",
		"Mon 24:30-23:00",
	}
	for _, spec := range cases {
		if _, err := Parse(spec); err == nil {
			t.Fatalf("expected %q to be rejected", spec)
		}
	}
}

func TestWindowContains(t *testing.T) {
	window, err := Parse("Mon 22:00-24:00")
	if err != nil {
		t.Fatalf("failed to parse window: %v", err)
	}

	if !window.Contains(instant(t, time.Monday, 22, 0)) {
		t.Fatal("expected window start to be inside")
	}
	if !window.Contains(instant(t, time.Monday, 23, 59)) {
		t.Fatal("expected last minute to be inside")
	}
	if window.Contains(instant(t, time.Monday, 21, 59)) {
		t.Fatal("expected minute before start to be outside")
	}
	if window.Contains(instant(t, time.Tuesday, 22, 30)) {
		t.Fatal("expected other weekday to be outside")
	}
}

func TestWindowWrapsMidnight(t *testing.T) {
	window, err := Parse("Fri 23:00-02:00")
	if err != nil {
		t.Fatalf("failed to parse window: %v", err)
	}

	if !window.Contains(instant(t, time.Friday, 23, 30)) {
		t.Fatal("expected Friday night to be inside")
	}
	if !window.Contains(instant(t, time.Saturday, 1, 30)) {
		t.Fatal("expected early Saturday to be inside")
	}
	if window.Contains(instant(t, time.Saturday, 2, 30)) {
		t.Fatal("expected Saturday after end to be outside")
	}
	if window.Contains(instant(t, time.Sunday, 1, 0)) {
		t.Fatal("expected Sunday morning to be outside")
	}
}

func TestDayRanges(t *testing.T) {
	window, err := Parse("Mon-Fri 09:00-17:00")
	if err != nil {
		t.Fatalf("failed to parse window: %v", err)
	}

	if !window.Contains(instant(t, time.Wednesday, 12, 0)) {
		t.Fatal("expected Wednesday noon to be inside")
	}
	if window.Contains(instant(t, time.Saturday, 12, 0)) {
		t.Fatal("expected Saturday to be outside")
	}

	wrapped, err := Parse("Sat-Mon 00:00-24:00")
	if err != nil {
		t.Fatalf("failed to parse wrapped range: %v", err)
	}
	if !wrapped.Contains(instant(t, time.Sunday, 12, 0)) {
		t.Fatal("expected Sunday to be inside Sat-Mon")
	}
	if wrapped.Contains(instant(t, time.Wednesday, 12, 0)) {
		t.Fatal("expected Wednesday to be outside Sat-Mon")
	}
}

func TestEvaluatorDenyWinsOverAllow(t *testing.T) {
	evaluator, err := NewEvaluator(
		[]string{"* 00:00-24:00"},
		[]string{"Mon 09:00-17:00"},
	)
	if err != nil {
		t.Fatalf("failed to build evaluator: %v", err)
	}

	decision := evaluator.Evaluate(instant(t, time.Monday, 12, 0))
	if decision.Allowed {
		t.Fatalf("expected deny to win, got %+v", decision)
	}

	decision = evaluator.Evaluate(instant(t, time.Tuesday, 12, 0))
	if !decision.Allowed {
		t.Fatalf("expected Tuesday to be allowed, got %+v", decision)
	}
}

func TestEvaluatorEmptyAllowPermitsAll(t *testing.T) {
	evaluator, err := NewEvaluator(nil, nil)
	if err != nil {
		t.Fatalf("failed to build evaluator: %v", err)
	}
	if decision := evaluator.Evaluate(instant(t, time.Sunday, 3, 0)); !decision.Allowed {
		t.Fatalf("expected permit-all, got %+v", decision)
	}
}

func TestEvaluatorRestrictsToAllowWindows(t *testing.T) {
	evaluator, err := NewEvaluator([]string{"Sun 02:00-04:00"}, nil)
	if err != nil {
		t.Fatalf("failed to build evaluator: %v", err)
	}

	if decision := evaluator.Evaluate(instant(t, time.Sunday, 3, 0)); !decision.Allowed {
		t.Fatalf("expected inside allow window, got %+v", decision)
	}
	if decision := evaluator.Evaluate(instant(t, time.Sunday, 5, 0)); decision.Allowed {
		t.Fatalf("expected outside allow window, got %+v", decision)
	}
}

func TestEvaluatorRejectsBadSpecs(t *testing.T) {
	if _, err := NewEvaluator([]string{"nonsense"}, nil); err == nil {
		t.Fatal("expected bad allow spec to be rejected")
	}
	if _, err := NewEvaluator(nil, []string{"nonsense"}); err == nil {
		t.Fatal("expected bad deny spec to be rejected")
	}
}
