// Package windows evaluates time windows that gate when healing actions may
// run.
package windows

import (
	"fmt"
	"strings"
	"time"
)

// Window is a recurring weekly time range, expressed in minutes of day. End
// is exclusive. A window whose end is before its start wraps past midnight.
type Window struct {
	days  map[time.Weekday]bool
	start int
	end   int
	spec  string
}

var dayNames = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

var orderedDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// Parse parses a window specification of the form "Day HH:MM-HH:MM". Day is
// a three-letter weekday, a weekday range such as "Mon-Fri", or "*" for any
// day. The end time may be 24:00.
func Parse(spec string) (Window, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return Window{}, fmt.Errorf("window %q: expected \"Day HH:MM-HH:MM\"", spec)
	}

	days, err := parseDays(fields[0])
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", spec, err)
	}

	parts := strings.SplitN(fields[1], "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("window %q: expected time range HH:MM-HH:MM", spec)
	}
	start, err := parseMinute(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", spec, err)
	}
	end, err := parseMinute(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", spec, err)
	}
	if start == end {
		return Window{}, fmt.Errorf("window %q: start and end are equal", spec)
	}

	return Window{days: days, start: start, end: end, spec: spec}, nil
}

func parseDays(token string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool, 7)
	if token == "*" {
		for _, day := range orderedDays {
			days[day] = true
		}
		return days, nil
	}

	if from, to, ok := strings.Cut(token, "-"); ok {
		start, okFrom := dayNames[strings.ToLower(from)]
		end, okTo := dayNames[strings.ToLower(to)]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("unknown weekday in range %q", token)
		}
		active := false
		// Walk the Mon..Sun cycle twice so ranges like Sat-Tue work.
		for i := 0; i < 2*len(orderedDays); i++ {
			day := orderedDays[i%len(orderedDays)]
			if day == start {
				active = true
			}
			if active {
				days[day] = true
			}
			if active && day == end {
				return days, nil
			}
		}
		return nil, fmt.Errorf("unresolvable weekday range %q", token)
	}

	day, ok := dayNames[strings.ToLower(token)]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", token)
	}
	days[day] = true
	return days, nil
}

func parseMinute(token string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(token, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q", token)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time %q out of range", token)
	}
	return hour*60 + minute, nil
}

// Contains reports whether the window covers the given time.
func (w Window) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return w.days[t.Weekday()] && minute >= w.start && minute < w.end
	}
	// Overnight wrap: the portion after midnight belongs to the previous
	// day's window.
	if w.days[t.Weekday()] && minute >= w.start {
		return true
	}
	previous := t.Add(-24 * time.Hour).Weekday()
	return w.days[previous] && minute < w.end
}

// String returns the original specification.
func (w Window) String() string {
	return w.spec
}

// Decision explains whether an instant is inside the configured windows.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator combines allow and deny windows. Deny wins over allow; an empty
// allow list permits all times not covered by a deny window.
type Evaluator struct {
	allow []Window
	deny  []Window
}

// NewEvaluator parses the allow and deny specifications.
func NewEvaluator(allowSpecs, denySpecs []string) (*Evaluator, error) {
	evaluator := &Evaluator{}
	for _, spec := range allowSpecs {
		window, err := Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("allow %w", err)
		}
		evaluator.allow = append(evaluator.allow, window)
	}
	for _, spec := range denySpecs {
		window, err := Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("deny %w", err)
		}
		evaluator.deny = append(evaluator.deny, window)
	}
	return evaluator, nil
}

// Evaluate decides whether healing may run at the given time.
func (e *Evaluator) Evaluate(t time.Time) Decision {
	for _, window := range e.deny {
		if window.Contains(t) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("inside deny window %q", window)}
		}
	}
	if len(e.allow) == 0 {
		return Decision{Allowed: true, Reason: "no allow windows configured"}
	}
	for _, window := range e.allow {
		if window.Contains(t) {
			return Decision{Allowed: true, Reason: fmt.Sprintf("inside allow window %q", window)}
		}
	}
	return Decision{Allowed: false, Reason: "outside all allow windows"}
}
