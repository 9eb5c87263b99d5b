package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbox/internal/match"
	"matchbox/internal/store"
	"matchbox/internal/value"
)

var (
	applyJSON    bool
	applyTrace   bool
	applyNoStore bool
)

// applyCmd applies a named ruleset to a value
var applyCmd = &cobra.Command{
	Use:   "apply <ruleset> <value>",
	Short: "Apply a ruleset to a value, first match wins",
	Long: `Applies a named ruleset to a value and prints the result.

The ruleset is looked up in the configured directories, then in the store
archive. The run is recorded to the store unless --no-store is given.

Examples:
  matchbox apply eval 'Add(Lit(2), Lit(3))'
  matchbox apply classify '7' --trace
  matchbox apply triage '{"severity": 2}' --json

Exits 1 when no arm matches.`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "Decode the value from JSON and print the result as JSON")
	applyCmd.Flags().BoolVar(&applyTrace, "trace", false, "Print the arm-by-arm trace")
	applyCmd.Flags().BoolVar(&applyNoStore, "no-store", false, "Do not record the run")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	rs, err := resolveRuleset(reg, st, args[0])
	if err != nil {
		return err
	}
	subject, err := parseSubject(args[1], applyJSON)
	if err != nil {
		return err
	}

	var col *match.Collector
	var tracer match.Tracer
	if applyTrace {
		col = match.NewCollector()
		tracer = col
	}
	eng, err := newEngine(tracer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetApplyTimeout())
	defer cancel()

	result, outcome, applyErr := eng.Apply(ctx, rs, subject)

	if st != nil && !applyNoStore {
		recordRun(st, rs.Name, subject, result, outcome, applyErr)
	}
	if col != nil {
		printTrace(col.Events())
	}

	if applyErr != nil {
		if errors.Is(applyErr, match.ErrNoMatch) {
			fmt.Println("no match")
			return errQuiet
		}
		return applyErr
	}

	out, err := renderValue(result, applyJSON)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// recordRun archives one apply. Recording is best effort; a failure is a
// log line, not a command failure.
func recordRun(st *store.Store, name string, subject, result value.Value, outcome match.Outcome, applyErr error) {
	run := &store.Run{
		ID:       outcome.RunID,
		Ruleset:  name,
		Outcome:  store.OutcomeMatched,
		ArmIndex: outcome.ArmIndex,
		Duration: outcome.Elapsed,
	}
	switch {
	case applyErr == nil:
		if data, err := value.EncodeJSON(result); err == nil {
			run.Result = string(data)
		}
	case errors.Is(applyErr, match.ErrNoMatch):
		run.Outcome = store.OutcomeNoMatch
	default:
		run.Outcome = store.OutcomeError
	}
	if data, err := value.EncodeJSON(subject); err == nil {
		run.Subject = string(data)
	}
	if err := st.RecordRun(run); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}
}

func printTrace(events []match.TraceEvent) {
	for _, ev := range events {
		status := "ok"
		if !ev.Ok {
			status = "fail"
		}
		fmt.Printf("%*s%s arm %d  %-7s %-4s %s\n",
			ev.Depth*2, "", ev.Ruleset, ev.Arm, ev.Phase, status, ev.Elapsed)
	}
}
