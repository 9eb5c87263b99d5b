package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var queryRuns int

// queryCmd runs a Datalog query against the trace index
var queryCmd = &cobra.Command{
	Use:   "query <atom>",
	Short: "Query the trace index with Datalog",
	Long: `Evaluates one query atom against the trace index built from the loaded
rulesets and the stored run history. Uppercase arguments are variables;
each derived fact becomes one binding row.

Base predicates:
  arm_defined(Ruleset, Arm, Pattern)
  match_run(Run, Ruleset, Outcome, Arm)
  arm_tried(Run, Ruleset, Arm, Outcome)

Derived predicates:
  arm_matched(Ruleset, Arm)      cold_arm(Ruleset, Arm)
  hot_arm(Ruleset, Arm, N)       matched_later(Ruleset)
  always_first(Ruleset)          unmatched_run(Run, Ruleset)

Examples:
  matchbox query 'cold_arm(R, A)'
  matchbox query 'hot_arm("triage", A, N)'
  matchbox query 'unmatched_run(Run, "classify")'`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryRuns, "runs", 1000, "Recent runs to fold in")
}

func runQuery(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		logger.Warn("store unavailable", zap.Error(err))
		st = nil
	} else {
		defer st.Close()
	}

	ix, err := buildIndex(reg, st, queryRuns)
	if err != nil {
		return err
	}
	res, err := ix.Query(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(res.Bindings) == 0 {
		fmt.Println("no results")
		return nil
	}

	cols := queryColumns(args[0], res.Bindings[0])
	for _, row := range res.Bindings {
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s = %v", col, row[col]))
		}
		fmt.Println(strings.Join(parts, "  "))
	}
	fmt.Printf("%d row(s) in %v\n", len(res.Bindings), res.Duration.Round(time.Microsecond))
	return nil
}

// queryColumns orders output columns the way the variables appear in the
// query atom, falling back to sorted keys for anything it cannot place.
func queryColumns(atom string, row map[string]any) []string {
	var cols []string
	seen := map[string]bool{}
	open := strings.IndexByte(atom, '(')
	if open >= 0 {
		for _, tok := range strings.FieldsFunc(atom[open:], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		}) {
			if _, ok := row[tok]; ok && !seen[tok] {
				cols = append(cols, tok)
				seen[tok] = true
			}
		}
	}
	var rest []string
	for k := range row {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}
