package check

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TargetAll selects every registered check.
const TargetAll = "all"

// Result pairs a registered check with the outcome of its latest execution.
type Result struct {
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Attempts int      `json:"attempts"`
	Outcome  Outcome  `json:"outcome"`
}

// Healthy reports whether the check passed.
func (r Result) Healthy() bool {
	return r.Outcome.Status == StatusHealthy
}

// Engine executes registered checks sequentially in registration order.
type Engine struct {
	defs    []Definition
	byName  map[string]int
	nowFunc func() time.Time
}

// EngineOption customises engine construction.
type EngineOption func(*Engine)

// WithTimeSource overrides the engine clock, primarily for tests.
func WithTimeSource(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

// NewEngine constructs an engine over the provided definitions. Definitions
// must carry unique names and a probe.
func NewEngine(defs []Definition, opts ...EngineOption) (*Engine, error) {
	engine := &Engine{
		defs:    append([]Definition(nil), defs...),
		byName:  make(map[string]int, len(defs)),
		nowFunc: time.Now,
	}
	for i, def := range engine.defs {
		if def.Name == "" {
			return nil, fmt.Errorf("check at index %d has no name", i)
		}
		if def.Probe == nil {
			return nil, fmt.Errorf("check %q has no probe", def.Name)
		}
		if _, exists := engine.byName[def.Name]; exists {
			return nil, fmt.Errorf("check %q registered twice", def.Name)
		}
		engine.byName[def.Name] = i
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Definitions returns the registered checks in registration order.
func (e *Engine) Definitions() []Definition {
	return append([]Definition(nil), e.defs...)
}

// Has reports whether a check with the given name is registered.
func (e *Engine) Has(name string) bool {
	_, ok := e.byName[name]
	return ok
}

// Run executes the selected checks and returns their results in registration
// order. Target is either TargetAll or the name of a single check; an unknown
// name yields an empty result set so callers can decide how to surface it.
// The only error Run returns is context cancellation.
func (e *Engine) Run(ctx context.Context, target string) ([]Result, error) {
	selected := e.defs
	if target != TargetAll {
		idx, ok := e.byName[target]
		if !ok {
			return nil, nil
		}
		selected = e.defs[idx : idx+1]
	}

	results := make([]Result, 0, len(selected))
	for _, def := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.runOne(ctx, def)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// runOne invokes a single check's probe, re-invoking up to the configured
// retry count. The outcome of the final attempt wins.
func (e *Engine) runOne(ctx context.Context, def Definition) (Result, error) {
	result := Result{Name: def.Name, Priority: def.Priority}

	attempts := def.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, err := e.invoke(ctx, def)
		if err != nil {
			return Result{}, err
		}
		result.Attempts = attempt
		result.Outcome = outcome
		if outcome.Status == StatusHealthy {
			break
		}
	}
	return result, nil
}

// invoke runs the probe once under the check's timeout. Probe errors become
// unhealthy outcomes; only cancellation of the parent context is propagated.
func (e *Engine) invoke(ctx context.Context, def Definition) (Outcome, error) {
	probeCtx := ctx
	cancel := func() {}
	if def.Timeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, def.Timeout)
	}
	defer cancel()

	started := e.nowFunc()
	outcome, err := def.Probe.Probe(probeCtx)
	outcome.Duration = e.nowFunc().Sub(started)

	if err != nil {
		if parentErr := ctx.Err(); parentErr != nil {
			return Outcome{}, parentErr
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", def.Timeout)
		}
		outcome = Outcome{
			Status:   StatusUnhealthy,
			Duration: outcome.Duration,
			Error:    msg,
		}
	}
	return outcome, nil
}
