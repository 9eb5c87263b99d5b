package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"matchbox/internal/analysis"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "matchbox.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "matchbox.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestSaveAndGetRuleset(t *testing.T) {
	s := openTestStore(t)

	rec := &RulesetRecord{
		Name:       "eval",
		Source:     "inspect eval : &Expr { null => 0 }",
		CompiledOK: true,
		Diagnostics: []analysis.Diagnostic{
			{Severity: analysis.SeverityWarning, Code: "non-exhaustive", Ruleset: "eval", Pos: "1:1", Message: "not every subject matches an arm"},
		},
	}
	if err := s.SaveRuleset(rec); err != nil {
		t.Fatalf("SaveRuleset() error = %v", err)
	}
	if rec.ContentHash == "" {
		t.Fatalf("SaveRuleset() left ContentHash empty")
	}

	got, err := s.GetRuleset("eval")
	if err != nil {
		t.Fatalf("GetRuleset() error = %v", err)
	}
	if got == nil {
		t.Fatalf("GetRuleset() = nil, want record")
	}
	if got.Source != rec.Source {
		t.Errorf("Source = %q, want %q", got.Source, rec.Source)
	}
	if got.ContentHash != HashSource(rec.Source) {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, HashSource(rec.Source))
	}
	if !got.CompiledOK {
		t.Errorf("CompiledOK = false, want true")
	}
	if len(got.Diagnostics) != 1 {
		t.Fatalf("Diagnostics len = %d, want 1", len(got.Diagnostics))
	}
	if got.Diagnostics[0].Code != "non-exhaustive" {
		t.Errorf("Diagnostics[0].Code = %q, want %q", got.Diagnostics[0].Code, "non-exhaustive")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestGetRulesetMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetRuleset("nope")
	if err != nil {
		t.Fatalf("GetRuleset() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRuleset() = %+v, want nil", got)
	}
}

func TestSaveRulesetUpserts(t *testing.T) {
	s := openTestStore(t)

	first := &RulesetRecord{Name: "greet", Source: "inspect greet { _ => 1 }", CompiledOK: true}
	if err := s.SaveRuleset(first); err != nil {
		t.Fatalf("SaveRuleset() error = %v", err)
	}

	second := &RulesetRecord{Name: "greet", Source: "inspect greet { _ => 2 }", CompiledOK: false}
	if err := s.SaveRuleset(second); err != nil {
		t.Fatalf("SaveRuleset() second error = %v", err)
	}

	got, err := s.GetRuleset("greet")
	if err != nil {
		t.Fatalf("GetRuleset() error = %v", err)
	}
	if got.Source != second.Source {
		t.Errorf("Source = %q, want updated %q", got.Source, second.Source)
	}
	if got.CompiledOK {
		t.Errorf("CompiledOK = true, want updated false")
	}
	if got.ContentHash != HashSource(second.Source) {
		t.Errorf("ContentHash not recomputed on update")
	}

	all, err := s.ListRulesets()
	if err != nil {
		t.Fatalf("ListRulesets() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListRulesets() len = %d, want 1", len(all))
	}
}

func TestListRulesetsOrderedByName(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		rec := &RulesetRecord{Name: name, Source: "inspect " + name + " { _ => 0 }"}
		if err := s.SaveRuleset(rec); err != nil {
			t.Fatalf("SaveRuleset(%q) error = %v", name, err)
		}
	}

	all, err := s.ListRulesets()
	if err != nil {
		t.Fatalf("ListRulesets() error = %v", err)
	}
	var names []string
	for _, rec := range all {
		names = append(names, rec.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("ListRulesets() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDeleteRuleset(t *testing.T) {
	s := openTestStore(t)

	rec := &RulesetRecord{Name: "gone", Source: "inspect gone { _ => 0 }"}
	if err := s.SaveRuleset(rec); err != nil {
		t.Fatalf("SaveRuleset() error = %v", err)
	}
	if err := s.DeleteRuleset("gone"); err != nil {
		t.Fatalf("DeleteRuleset() error = %v", err)
	}

	got, err := s.GetRuleset("gone")
	if err != nil {
		t.Fatalf("GetRuleset() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRuleset() after delete = %+v, want nil", got)
	}

	err = s.DeleteRuleset("gone")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("DeleteRuleset() second error = %v, want not found", err)
	}
}

func TestRecordRunFillsDefaults(t *testing.T) {
	s := openTestStore(t)

	run := &Run{
		Ruleset:  "eval",
		Subject:  `{"$tag":"Add"}`,
		Result:   "42",
		Outcome:  OutcomeMatched,
		ArmIndex: 3,
		Duration: 7 * time.Millisecond,
	}
	if err := s.RecordRun(run); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if run.ID == "" {
		t.Errorf("RecordRun() left ID empty")
	}

	runs, err := s.RecentRuns("eval", 10)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("RecentRuns() len = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != run.ID {
		t.Errorf("ID = %q, want %q", got.ID, run.ID)
	}
	if got.Subject != run.Subject || got.Result != run.Result {
		t.Errorf("payload = (%q, %q), want (%q, %q)", got.Subject, got.Result, run.Subject, run.Result)
	}
	if got.Outcome != OutcomeMatched || got.ArmIndex != 3 {
		t.Errorf("outcome = (%q, %d), want (%q, 3)", got.Outcome, got.ArmIndex, OutcomeMatched)
	}
	if got.Duration != 7*time.Millisecond {
		t.Errorf("Duration = %v, want 7ms", got.Duration)
	}
}

func TestRecentRunsFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	seed := []Run{
		{ID: "r1", Ruleset: "eval", Subject: "1", Outcome: OutcomeMatched, CreatedAt: base},
		{ID: "r2", Ruleset: "eval", Subject: "2", Outcome: OutcomeNoMatch, ArmIndex: -1, CreatedAt: base.Add(time.Minute)},
		{ID: "r3", Ruleset: "balance", Subject: "3", Outcome: OutcomeMatched, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range seed {
		if err := s.RecordRun(&seed[i]); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", seed[i].ID, err)
		}
	}

	evalRuns, err := s.RecentRuns("eval", 10)
	if err != nil {
		t.Fatalf("RecentRuns(eval) error = %v", err)
	}
	if len(evalRuns) != 2 || evalRuns[0].ID != "r2" || evalRuns[1].ID != "r1" {
		t.Errorf("RecentRuns(eval) = %v, want [r2 r1]", runIDs(evalRuns))
	}

	allRuns, err := s.RecentRuns("", 10)
	if err != nil {
		t.Fatalf("RecentRuns(all) error = %v", err)
	}
	if len(allRuns) != 3 || allRuns[0].ID != "r3" {
		t.Errorf("RecentRuns(all) = %v, want r3 first of 3", runIDs(allRuns))
	}

	limited, err := s.RecentRuns("", 1)
	if err != nil {
		t.Fatalf("RecentRuns(limit 1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("RecentRuns(limit 1) len = %d, want 1", len(limited))
	}
}

func runIDs(runs []Run) []string {
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestPruneRuns(t *testing.T) {
	s := openTestStore(t)

	old := &Run{ID: "old", Ruleset: "eval", Subject: "1", Outcome: OutcomeMatched,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &Run{ID: "fresh", Ruleset: "eval", Subject: "2", Outcome: OutcomeMatched}
	for _, run := range []*Run{old, fresh} {
		if err := s.RecordRun(run); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", run.ID, err)
		}
	}

	pruned, err := s.PruneRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneRuns() = %d, want 1", pruned)
	}

	left, err := s.RecentRuns("", 10)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(left) != 1 || left[0].ID != "fresh" {
		t.Errorf("remaining runs = %v, want [fresh]", runIDs(left))
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveRuleset(&RulesetRecord{Name: "a", Source: "inspect a { _ => 0 }"}); err != nil {
		t.Fatalf("SaveRuleset() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordRun(&Run{Ruleset: "a", Subject: "0", Outcome: OutcomeMatched}); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats["rulesets"] != 1 {
		t.Errorf("stats[rulesets] = %d, want 1", stats["rulesets"])
	}
	if stats["match_runs"] != 3 {
		t.Errorf("stats[match_runs] = %d, want 3", stats["match_runs"])
	}
}
