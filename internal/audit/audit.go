// Package audit indexes rulesets and engine traces as Datalog facts and
// derives coverage from them: arms that never match, arms that run hot,
// rulesets that always resolve on their first arm.
package audit

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
	"go.uber.org/zap"

	"matchbox/internal/match"
)

//go:embed schema.mg
var traceSchema string

// Outcome name constants used in facts and queries.
const (
	nameMatched     = "/matched"
	nameMiss        = "/miss"
	nameGuardFailed = "/guard_failed"
	nameError       = "/error"
	nameNoMatch     = "/no_match"
)

// Config bounds the index.
type Config struct {
	FactLimit    int
	QueryTimeout time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		FactLimit:    100_000,
		QueryTimeout: 5 * time.Second,
	}
}

// Fact is one Datalog fact.
type Fact struct {
	Predicate string
	Args      []any
}

// String returns the Datalog form of the fact.
func (f Fact) String() string {
	var args []string
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%g", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// QueryResult holds the bindings produced by a query.
type QueryResult struct {
	Bindings []map[string]any
	Duration time.Duration
}

// Stats describes the fact store.
type Stats struct {
	TotalFacts      int
	PredicateCounts map[string]int
}

// Index is a Mangle program over trace facts. Derived facts are rebuilt from
// the base facts after every ingest, so rules that negate (cold_arm,
// always_first) never report stale conclusions.
type Index struct {
	config Config
	logger *zap.Logger

	mu              sync.RWMutex
	base            factstore.FactStore
	store           factstore.ConcurrentFactStore
	programInfo     *analysis.ProgramInfo
	queryContext    *mengine.QueryContext
	predicateIndex  map[string]ast.PredicateSym
	predToRules     map[ast.PredicateSym][]ast.Clause
	predToDecl      map[ast.PredicateSym]*ast.Decl
	factCount       int
	factLimitWarned bool
}

// NewIndex compiles the embedded schema into a fresh index.
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(traceSchema)))
	if err != nil {
		return nil, fmt.Errorf("parse trace schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze trace schema: %w", err)
	}

	x := &Index{
		config:         cfg,
		logger:         logger,
		base:           factstore.NewSimpleInMemoryStore(),
		programInfo:    programInfo,
		predicateIndex: make(map[string]ast.PredicateSym, len(programInfo.Decls)),
		predToRules:    make(map[ast.PredicateSym][]ast.Clause),
		predToDecl:     make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls)),
	}
	for sym, decl := range programInfo.Decls {
		x.predicateIndex[sym.Symbol] = sym
		x.predToDecl[sym] = decl
	}
	for _, clause := range programInfo.Rules {
		x.predToRules[clause.Head.Predicate] = append(x.predToRules[clause.Head.Predicate], clause)
	}

	if err := x.evaluateLocked(); err != nil {
		return nil, err
	}
	return x, nil
}

// IngestRuleset records the arms of a compiled ruleset.
func (x *Index) IngestRuleset(rs *match.Ruleset) error {
	facts := make([]Fact, 0, len(rs.Arms))
	for i, arm := range rs.Arms {
		facts = append(facts, Fact{
			Predicate: "arm_defined",
			Args:      []any{rs.Name, i, arm.Pattern.String()},
		})
	}
	return x.addFacts(facts)
}

// IngestLibrary records every ruleset of a library.
func (x *Index) IngestLibrary(lib *match.Library) error {
	for _, name := range lib.Names() {
		rs, _ := lib.Ruleset(name)
		if err := x.IngestRuleset(rs); err != nil {
			return err
		}
	}
	return nil
}

// IngestTrace records the events of one or more runs: one arm_tried fact per
// settled arm attempt (any depth) and one match_run summary per run derived
// from its depth-zero events.
func (x *Index) IngestTrace(events []match.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}

	var facts []Fact
	type summary struct {
		ruleset string
		outcome string
		arm     int
	}
	summaries := make(map[string]*summary)
	var order []string

	for _, ev := range events {
		run, ok := summaries[ev.RunID]
		if !ok {
			run = &summary{ruleset: ev.Ruleset, outcome: nameNoMatch, arm: -1}
			summaries[ev.RunID] = run
			order = append(order, ev.RunID)
		}

		switch {
		case ev.Phase == match.PhasePattern && !ev.Ok:
			facts = append(facts, armTried(ev, nameMiss))
		case ev.Phase == match.PhaseGuard && !ev.Ok:
			facts = append(facts, armTried(ev, nameGuardFailed))
		case ev.Phase == match.PhaseResult && ev.Ok:
			facts = append(facts, armTried(ev, nameMatched))
		case ev.Phase == match.PhaseResult && !ev.Ok:
			facts = append(facts, armTried(ev, nameError))
		}

		if ev.Depth == 0 && ev.Phase == match.PhaseResult {
			if ev.Ok {
				run.outcome = nameMatched
			} else {
				run.outcome = nameError
			}
			run.arm = ev.Arm
		}
	}

	for _, id := range order {
		run := summaries[id]
		facts = append(facts, Fact{
			Predicate: "match_run",
			Args:      []any{id, run.ruleset, run.outcome, run.arm},
		})
	}
	return x.addFacts(facts)
}

func armTried(ev match.TraceEvent, outcome string) Fact {
	return Fact{
		Predicate: "arm_tried",
		Args:      []any{ev.RunID, ev.Ruleset, ev.Arm, outcome},
	}
}

// IngestOutcome records one finished run from its stored summary, without a
// per-arm trace. Outcome is "matched", "no-match", or "error"; a matched run
// also counts toward the winning arm's heat.
func (x *Index) IngestOutcome(runID, ruleset, outcome string, arm int) error {
	var name string
	switch outcome {
	case "matched":
		name = nameMatched
	case "no-match":
		name = nameNoMatch
	case "error":
		name = nameError
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}

	facts := []Fact{{
		Predicate: "match_run",
		Args:      []any{runID, ruleset, name, arm},
	}}
	if name == nameMatched {
		facts = append(facts, Fact{
			Predicate: "arm_tried",
			Args:      []any{runID, ruleset, arm, nameMatched},
		})
	}
	return x.addFacts(facts)
}

func (x *Index) addFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, fact := range facts {
		if err := x.insertLocked(fact); err != nil {
			return err
		}
	}
	return x.evaluateLocked()
}

func (x *Index) insertLocked(fact Fact) error {
	if x.config.FactLimit > 0 && x.factCount >= x.config.FactLimit {
		return fmt.Errorf("fact limit exceeded: %d", x.config.FactLimit)
	}

	atom, err := x.factToAtom(fact)
	if err != nil {
		return err
	}
	if x.base.Add(atom) {
		x.factCount++
		x.maybeWarnFactLimit()
	}
	return nil
}

func (x *Index) maybeWarnFactLimit() {
	if x.config.FactLimit <= 0 || x.factLimitWarned {
		return
	}
	utilization := float64(x.factCount) / float64(x.config.FactLimit)
	if utilization >= 0.85 {
		x.logger.Warn("trace index near fact capacity",
			zap.Int("facts", x.factCount),
			zap.Int("limit", x.config.FactLimit))
		x.factLimitWarned = true
	}
}

func (x *Index) factToAtom(fact Fact) (ast.Atom, error) {
	sym, ok := x.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared in the trace schema", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := convertArg(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// convertArg maps a Go value to a Mangle constant. Only strings with a '/'
// prefix become name constants; everything else keeps its literal type, so
// ruleset names and pattern text survive as strings.
func convertArg(arg any) (ast.BaseTerm, error) {
	switch v := arg.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", arg)
	}
}

// evaluateLocked rebuilds the derived store: base facts are copied into a
// fresh store and the program is evaluated over it. Queries in flight keep
// reading the previous store.
func (x *Index) evaluateLocked() error {
	derived := factstore.NewSimpleInMemoryStore()
	for _, sym := range x.base.ListPredicates() {
		_ = x.base.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
			derived.Add(atom)
			return nil
		})
	}

	store := factstore.NewConcurrentFactStore(derived)
	if _, err := mengine.EvalProgramWithStats(x.programInfo, store); err != nil {
		return fmt.Errorf("evaluate trace rules: %w", err)
	}

	x.store = store
	x.queryContext = &mengine.QueryContext{
		PredToRules: x.predToRules,
		PredToDecl:  x.predToDecl,
		Store:       store,
	}
	return nil
}

// Query evaluates a query atom such as "cold_arm(R, A)" and returns one
// binding row per derived fact. Variables are the uppercase arguments.
func (x *Index) Query(ctx context.Context, query string) (*QueryResult, error) {
	shape, err := parseQueryShape(query)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	queryContext := x.queryContext
	decl, ok := queryContext.PredToDecl[shape.atom.Predicate]
	if !ok {
		x.mu.RUnlock()
		return nil, fmt.Errorf("predicate %s is not declared", shape.atom.Predicate.Symbol)
	}
	if len(decl.Modes()) == 0 {
		x.mu.RUnlock()
		return nil, fmt.Errorf("predicate %s has no modes declared", shape.atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	x.mu.RUnlock()

	timeout := x.config.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resultChan := make(chan []map[string]any, 1)
	errChan := make(chan error, 1)

	go func() {
		var results []map[string]any
		err := queryContext.EvalQuery(shape.atom, mode, unionfind.New(), func(fact ast.Atom) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			row := make(map[string]any, len(shape.variables))
			for _, binding := range shape.variables {
				if binding.Index >= len(fact.Args) {
					continue
				}
				row[binding.Name] = termToValue(fact.Args[binding.Index])
			}
			results = append(results, row)
			return nil
		})
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- results
	}()

	select {
	case results := <-resultChan:
		return &QueryResult{Bindings: results, Duration: time.Since(start)}, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

// GetFacts retrieves all facts for a predicate, base or derived.
func (x *Index) GetFacts(predicate string) ([]Fact, error) {
	x.mu.RLock()
	sym, ok := x.predicateIndex[predicate]
	store := x.store
	x.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]any, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = termToValue(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return results, err
}

// ArmHeat is the recorded activity of one arm.
type ArmHeat struct {
	Arm     int
	Pattern string
	Matches int
}

// CoverageReport summarizes arm activity for one ruleset.
type CoverageReport struct {
	Ruleset string
	Arms    []ArmHeat
	Cold    []int
}

// Coverage reports per-arm match counts and the cold arms of a ruleset. The
// ruleset must have been ingested.
func (x *Index) Coverage(ruleset string) (*CoverageReport, error) {
	defined, err := x.GetFacts("arm_defined")
	if err != nil {
		return nil, err
	}

	report := &CoverageReport{Ruleset: ruleset}
	byArm := make(map[int]*ArmHeat)
	for _, fact := range defined {
		if s, ok := fact.Args[0].(string); !ok || s != ruleset {
			continue
		}
		arm, ok := fact.Args[1].(int64)
		if !ok {
			continue
		}
		pat, _ := fact.Args[2].(string)
		byArm[int(arm)] = &ArmHeat{Arm: int(arm), Pattern: pat}
	}
	if len(byArm) == 0 {
		return nil, fmt.Errorf("no arms recorded for ruleset %q", ruleset)
	}

	hot, err := x.GetFacts("hot_arm")
	if err != nil {
		return nil, err
	}
	for _, fact := range hot {
		if s, ok := fact.Args[0].(string); !ok || s != ruleset {
			continue
		}
		arm, ok := fact.Args[1].(int64)
		if !ok {
			continue
		}
		if heat, found := byArm[int(arm)]; found {
			if n, isNum := fact.Args[2].(int64); isNum {
				heat.Matches = int(n)
			}
		}
	}

	cold, err := x.GetFacts("cold_arm")
	if err != nil {
		return nil, err
	}
	for _, fact := range cold {
		if s, ok := fact.Args[0].(string); !ok || s != ruleset {
			continue
		}
		if arm, isNum := fact.Args[1].(int64); isNum {
			report.Cold = append(report.Cold, int(arm))
		}
	}
	sort.Ints(report.Cold)

	for _, heat := range byArm {
		report.Arms = append(report.Arms, *heat)
	}
	sort.Slice(report.Arms, func(i, j int) bool { return report.Arms[i].Arm < report.Arms[j].Arm })
	return report, nil
}

// GetStats returns fact counts per predicate.
func (x *Index) GetStats() Stats {
	x.mu.RLock()
	store := x.store
	x.mu.RUnlock()

	counts := make(map[string]int)
	for _, sym := range store.ListPredicates() {
		n := 0
		_ = store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			n++
			return nil
		})
		counts[sym.Symbol] = n
	}
	return Stats{
		TotalFacts:      store.EstimateFactCount(),
		PredicateCounts: counts,
	}
}

// Clear drops all facts.
func (x *Index) Clear() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.base = factstore.NewSimpleInMemoryStore()
	x.factCount = 0
	x.factLimitWarned = false
	return x.evaluateLocked()
}

type queryVariable struct {
	Name  string
	Index int
}

type queryShape struct {
	atom      ast.Atom
	variables []queryVariable
}

func parseQueryShape(query string) (*queryShape, error) {
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, fmt.Errorf("empty query")
	}
	if strings.HasPrefix(clean, "?") {
		clean = strings.TrimSpace(clean[1:])
	}
	clean = strings.TrimSuffix(clean, ".")

	atom, err := parse.Atom(clean)
	if err != nil {
		return nil, fmt.Errorf("parse query %q: %w", query, err)
	}

	variables := make([]queryVariable, 0, len(atom.Args))
	for idx, arg := range atom.Args {
		if variable, ok := arg.(ast.Variable); ok {
			variables = append(variables, queryVariable{Name: variable.Symbol, Index: idx})
		}
	}
	return &queryShape{atom: atom, variables: variables}, nil
}

func termToValue(term ast.BaseTerm) any {
	switch v := term.(type) {
	case ast.Constant:
		switch v.Type {
		case ast.StringType, ast.NameType, ast.BytesType:
			return v.Symbol
		case ast.NumberType:
			return v.NumValue
		case ast.Float64Type:
			return math.Float64frombits(uint64(v.NumValue))
		default:
			return v.String()
		}
	case ast.Variable:
		return v.Symbol
	default:
		return fmt.Sprintf("%v", term)
	}
}
