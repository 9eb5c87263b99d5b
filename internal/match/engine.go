// Package match is the matching engine: it compiles parsed rulesets into
// libraries and applies them to subjects, first matching arm wins. Guards
// and results run under the pattern's bindings; recursion through self and
// sibling calls is depth-limited; every step can be traced.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

var (
	// ErrNoMatch reports that no arm matched the subject.
	ErrNoMatch = errors.New("no arm matched")
	// ErrDepthExceeded reports runaway recursion through self or sibling calls.
	ErrDepthExceeded = errors.New("recursion depth exceeded")
	// ErrStepsExceeded reports that a single Apply visited too many pattern nodes.
	ErrStepsExceeded = errors.New("step budget exceeded")
)

// Config bounds and instruments an Engine. Zero fields take defaults.
type Config struct {
	// MaxDepth caps self/sibling recursion per Apply.
	MaxDepth int
	// MaxSteps caps pattern node visits per Apply.
	MaxSteps int
	// Extractors backs `(name) p` patterns and extractor calls.
	Extractors *Registry
	// Tracer, when set, receives one event per arm phase.
	Tracer Tracer
	Logger *zap.Logger
}

// DefaultConfig returns the standard limits.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth: 128,
		MaxSteps: 200_000,
	}
}

// Engine applies compiled rulesets. Safe for concurrent use; per-Apply state
// lives on the stack.
type Engine struct {
	maxDepth int
	maxSteps int
	registry *Registry
	tracer   Tracer
	logger   *zap.Logger
}

// NewEngine builds an engine from cfg. A nil cfg uses DefaultConfig.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		maxDepth: cfg.MaxDepth,
		maxSteps: cfg.MaxSteps,
		registry: cfg.Extractors,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultConfig().MaxDepth
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultConfig().MaxSteps
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Registry returns the extractor registry, for plugin loading.
func (e *Engine) Registry() *Registry { return e.registry }

// Outcome describes a successful Apply.
type Outcome struct {
	RunID    string
	Ruleset  string
	ArmIndex int
	Bindings *Bindings
	Elapsed  time.Duration
}

type applyState struct {
	ctx   context.Context
	runID string
	steps int
}

// Apply matches subject against rs's arms in order and evaluates the first
// arm whose pattern matches and whose guard holds. With no matching arm the
// error wraps ErrNoMatch. Guard and result evaluation errors abort.
func (e *Engine) Apply(ctx context.Context, rs *Ruleset, subject value.Value) (value.Value, Outcome, error) {
	st := &applyState{ctx: ctx, runID: uuid.NewString()}
	start := time.Now()
	v, arm, binds, err := e.applyAt(st, rs, subject, 0)
	out := Outcome{
		RunID:    st.runID,
		Ruleset:  rs.Name,
		ArmIndex: arm,
		Bindings: binds,
		Elapsed:  time.Since(start),
	}
	if err != nil {
		return nil, out, err
	}
	e.logger.Debug("applied ruleset",
		zap.String("ruleset", rs.Name),
		zap.Int("arm", arm),
		zap.Duration("elapsed", out.Elapsed))
	return v, out, nil
}

func (e *Engine) applyAt(st *applyState, rs *Ruleset, subject value.Value, depth int) (value.Value, int, *Bindings, error) {
	if depth > e.maxDepth {
		return nil, -1, nil, fmt.Errorf("ruleset %q at depth %d: %w", rs.Name, depth, ErrDepthExceeded)
	}
	if err := st.ctx.Err(); err != nil {
		return nil, -1, nil, err
	}
	for i, arm := range rs.Arms {
		binds := NewBindings()
		patStart := time.Now()
		ok, err := e.matchPat(st, arm.Pattern, subject, binds)
		e.trace(st, rs.Name, i, PhasePattern, ok && err == nil, depth, time.Since(patStart))
		if err != nil {
			return nil, i, nil, fmt.Errorf("ruleset %q arm %d: %w", rs.Name, i, err)
		}
		if !ok {
			continue
		}
		ev := &evaluator{lib: rs.lib, binds: binds, rs: rs, eng: e, st: st, depth: depth}
		if arm.Guard != nil {
			guardStart := time.Now()
			gv, err := ev.eval(arm.Guard)
			if err != nil {
				e.trace(st, rs.Name, i, PhaseGuard, false, depth, time.Since(guardStart))
				return nil, i, nil, fmt.Errorf("ruleset %q arm %d guard: %w", rs.Name, i, err)
			}
			gb, isBool := gv.(value.Bool)
			if !isBool {
				e.trace(st, rs.Name, i, PhaseGuard, false, depth, time.Since(guardStart))
				return nil, i, nil, fmt.Errorf("ruleset %q arm %d guard: got %s, want bool", rs.Name, i, gv.Kind())
			}
			e.trace(st, rs.Name, i, PhaseGuard, bool(gb), depth, time.Since(guardStart))
			if !gb {
				continue
			}
		}
		resStart := time.Now()
		rv, err := ev.eval(arm.Result)
		e.trace(st, rs.Name, i, PhaseResult, err == nil, depth, time.Since(resStart))
		if err != nil {
			return nil, i, nil, fmt.Errorf("ruleset %q arm %d result: %w", rs.Name, i, err)
		}
		return rv, i, binds, nil
	}
	return nil, -1, nil, fmt.Errorf("ruleset %q: %w", rs.Name, ErrNoMatch)
}

// Match tests a single compiled pattern against a subject. The pattern must
// have been resolved with CompilePattern or as part of a library.
func (e *Engine) Match(ctx context.Context, p pattern.Pattern, subject value.Value) (*Bindings, bool, error) {
	st := &applyState{ctx: ctx, runID: uuid.NewString()}
	binds := NewBindings()
	ok, err := e.matchPat(st, p, subject, binds)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return binds, true, nil
}

func (e *Engine) trace(st *applyState, ruleset string, arm int, phase Phase, ok bool, depth int, elapsed time.Duration) {
	if e.tracer == nil {
		return
	}
	e.tracer.Event(TraceEvent{
		RunID:   st.runID,
		Ruleset: ruleset,
		Arm:     arm,
		Phase:   phase,
		Ok:      ok,
		Depth:   depth,
		Elapsed: elapsed,
	})
}
