package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

const classifySrc = `
inspect classify {
  0 => "zero",
  1 => "one",
  _ => "many",
}
`

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	x, err := NewIndex(DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	return x
}

func compileSrc(t *testing.T, src string) *match.Library {
	t.Helper()
	blocks, err := pattern.ParseBlocks(src, 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	lib, err := match.Compile(match.Source{Blocks: blocks})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return lib
}

// applyTraced runs each subject through the named ruleset and returns the
// collected trace. ErrNoMatch is expected for fall-through fixtures.
func applyTraced(t *testing.T, lib *match.Library, name string, subjects ...value.Value) []match.TraceEvent {
	t.Helper()
	col := match.NewCollector()
	eng, err := match.NewEngine(&match.Config{Tracer: col})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	rs, ok := lib.Ruleset(name)
	if !ok {
		t.Fatalf("Ruleset(%s) not found", name)
	}
	for _, subject := range subjects {
		if _, _, err := eng.Apply(context.Background(), rs, subject); err != nil && !errors.Is(err, match.ErrNoMatch) {
			t.Fatalf("Apply(%s) error = %v", subject, err)
		}
	}
	return col.Events()
}

func ingestRuleset(t *testing.T, x *Index, lib *match.Library, name string) {
	t.Helper()
	rs, ok := lib.Ruleset(name)
	if !ok {
		t.Fatalf("Ruleset(%s) not found", name)
	}
	if err := x.IngestRuleset(rs); err != nil {
		t.Fatalf("IngestRuleset() error = %v", err)
	}
}

func TestIngestAndColdArms(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	events := applyTraced(t, lib, "classify", value.Int(0), value.Int(5))
	if err := x.IngestTrace(events); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}

	cold, err := x.GetFacts("cold_arm")
	if err != nil {
		t.Fatalf("GetFacts(cold_arm) error = %v", err)
	}
	if len(cold) != 1 {
		t.Fatalf("cold_arm facts = %d, want 1: %v", len(cold), cold)
	}
	if cold[0].Args[0] != "classify" || cold[0].Args[1] != int64(1) {
		t.Errorf("cold_arm = %v, want (classify, 1)", cold[0].Args)
	}
}

func TestColdArmWarmsUpAcrossBatches(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(0))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}
	cold, err := x.GetFacts("cold_arm")
	if err != nil {
		t.Fatalf("GetFacts(cold_arm) error = %v", err)
	}
	if len(cold) != 2 {
		t.Fatalf("cold_arm facts after first batch = %d, want 2: %v", len(cold), cold)
	}

	// Arm 1 matches in a later batch; the derived store must forget the
	// earlier cold_arm conclusion.
	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(1))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}
	cold, err = x.GetFacts("cold_arm")
	if err != nil {
		t.Fatalf("GetFacts(cold_arm) error = %v", err)
	}
	if len(cold) != 1 {
		t.Fatalf("cold_arm facts after second batch = %d, want 1: %v", len(cold), cold)
	}
	if cold[0].Args[1] != int64(2) {
		t.Errorf("cold arm = %v, want 2", cold[0].Args[1])
	}
}

func TestCoverageReport(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	events := applyTraced(t, lib, "classify", value.Int(0), value.Int(0), value.Int(7))
	if err := x.IngestTrace(events); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}

	report, err := x.Coverage("classify")
	if err != nil {
		t.Fatalf("Coverage() error = %v", err)
	}
	if len(report.Arms) != 3 {
		t.Fatalf("Coverage() arms = %d, want 3", len(report.Arms))
	}
	wantMatches := []int{2, 0, 1}
	for i, heat := range report.Arms {
		if heat.Arm != i {
			t.Errorf("Arms[%d].Arm = %d, want %d", i, heat.Arm, i)
		}
		if heat.Matches != wantMatches[i] {
			t.Errorf("Arms[%d].Matches = %d, want %d", i, heat.Matches, wantMatches[i])
		}
	}
	if report.Arms[0].Pattern != "0" || report.Arms[2].Pattern != "_" {
		t.Errorf("patterns = %q, %q, want \"0\", \"_\"", report.Arms[0].Pattern, report.Arms[2].Pattern)
	}
	if len(report.Cold) != 1 || report.Cold[0] != 1 {
		t.Errorf("Cold = %v, want [1]", report.Cold)
	}
}

func TestCoverageUnknownRuleset(t *testing.T) {
	x := newTestIndex(t)
	if _, err := x.Coverage("ghost"); err == nil || !strings.Contains(err.Error(), "no arms recorded") {
		t.Errorf("Coverage(ghost) error = %v, want no arms recorded", err)
	}
}

func TestRunOutcomesFromTrace(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, `
inspect pick {
  1 => "one",
}
`)
	ingestRuleset(t, x, lib, "pick")

	events := applyTraced(t, lib, "pick", value.Int(2))
	if err := x.IngestTrace(events); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}

	runs, err := x.GetFacts("match_run")
	if err != nil {
		t.Fatalf("GetFacts(match_run) error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("match_run facts = %d, want 1", len(runs))
	}
	if runs[0].Args[1] != "pick" || runs[0].Args[2] != nameNoMatch {
		t.Errorf("match_run = %v, want (pick, /no_match)", runs[0].Args)
	}

	unmatched, err := x.GetFacts("unmatched_run")
	if err != nil {
		t.Fatalf("GetFacts(unmatched_run) error = %v", err)
	}
	if len(unmatched) != 1 {
		t.Errorf("unmatched_run facts = %d, want 1", len(unmatched))
	}
}

func TestMatchedRunRecordsWinningArm(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(1))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}

	runs, err := x.GetFacts("match_run")
	if err != nil {
		t.Fatalf("GetFacts(match_run) error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("match_run facts = %d, want 1", len(runs))
	}
	if runs[0].Args[2] != nameMatched || runs[0].Args[3] != int64(1) {
		t.Errorf("match_run = %v, want (/matched, 1)", runs[0].Args)
	}
}

func TestAlwaysFirstQuery(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(0), value.Int(0))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}
	res, err := x.Query(context.Background(), "always_first(R)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Bindings) != 1 || res.Bindings[0]["R"] != "classify" {
		t.Fatalf("always_first bindings = %v, want [{R: classify}]", res.Bindings)
	}

	// A later-arm match withdraws the conclusion.
	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(9))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}
	res, err = x.Query(context.Background(), "always_first(R)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Bindings) != 0 {
		t.Errorf("always_first bindings = %v, want none", res.Bindings)
	}
}

func TestQueryAcceptsShellForms(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	for _, q := range []string{"arm_defined(R, A, P)", "?arm_defined(R, A, P)", "arm_defined(R, A, P)."} {
		res, err := x.Query(context.Background(), q)
		if err != nil {
			t.Fatalf("Query(%q) error = %v", q, err)
		}
		if len(res.Bindings) != 3 {
			t.Errorf("Query(%q) bindings = %d, want 3", q, len(res.Bindings))
		}
	}
}

func TestQueryUnknownPredicate(t *testing.T) {
	x := newTestIndex(t)
	if _, err := x.Query(context.Background(), "bogus(X)"); err == nil || !strings.Contains(err.Error(), "not declared") {
		t.Errorf("Query(bogus) error = %v, want not declared", err)
	}
}

func TestFactLimit(t *testing.T) {
	x, err := NewIndex(Config{FactLimit: 2, QueryTimeout: time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	lib := compileSrc(t, classifySrc)
	rs, _ := lib.Ruleset("classify")
	if err := x.IngestRuleset(rs); err == nil || !strings.Contains(err.Error(), "fact limit exceeded") {
		t.Errorf("IngestRuleset() error = %v, want fact limit exceeded", err)
	}
}

func TestStatsAndClear(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")
	if err := x.IngestTrace(applyTraced(t, lib, "classify", value.Int(0))); err != nil {
		t.Fatalf("IngestTrace() error = %v", err)
	}

	stats := x.GetStats()
	if stats.PredicateCounts["arm_defined"] != 3 {
		t.Errorf("arm_defined count = %d, want 3", stats.PredicateCounts["arm_defined"])
	}
	if stats.PredicateCounts["cold_arm"] != 2 {
		t.Errorf("cold_arm count = %d, want 2", stats.PredicateCounts["cold_arm"])
	}
	if stats.TotalFacts == 0 {
		t.Error("TotalFacts = 0, want > 0")
	}

	if err := x.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := x.GetStats().TotalFacts; got != 0 {
		t.Errorf("TotalFacts after Clear = %d, want 0", got)
	}
	if _, err := x.Coverage("classify"); err == nil {
		t.Error("Coverage() after Clear should fail")
	}
}

func TestFactString(t *testing.T) {
	f := Fact{Predicate: "arm_tried", Args: []any{"run-1", "eval", 3, "/matched"}}
	want := `arm_tried("run-1", "eval", 3, /matched).`
	if got := f.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestIngestOutcomeFeedsCoverage(t *testing.T) {
	x := newTestIndex(t)
	lib := compileSrc(t, classifySrc)
	ingestRuleset(t, x, lib, "classify")

	if err := x.IngestOutcome("run-a", "classify", "matched", 0); err != nil {
		t.Fatalf("IngestOutcome() error = %v", err)
	}
	if err := x.IngestOutcome("run-b", "classify", "no-match", -1); err != nil {
		t.Fatalf("IngestOutcome() error = %v", err)
	}

	rep, err := x.Coverage("classify")
	if err != nil {
		t.Fatalf("Coverage() error = %v", err)
	}
	if rep.Arms[0].Matches != 1 {
		t.Errorf("arm 0 matches = %d, want 1", rep.Arms[0].Matches)
	}
	if len(rep.Cold) != 2 {
		t.Errorf("cold arms = %v, want two", rep.Cold)
	}

	if err := x.IngestOutcome("run-c", "classify", "sideways", 0); err == nil {
		t.Error("IngestOutcome() accepted an unknown outcome")
	}
}
