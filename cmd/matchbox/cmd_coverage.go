package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbox/internal/audit"
	"matchbox/internal/ruleset"
	"matchbox/internal/store"
)

var coverageRuns int

// coverageCmd reports arm heat for one ruleset
var coverageCmd = &cobra.Command{
	Use:   "coverage <ruleset>",
	Short: "Show which arms of a ruleset fire, and which never do",
	Long: `Folds the stored run history into the trace index and reports per-arm
match counts. A cold arm has never matched a recorded subject; it is either
dead weight or waiting for inputs the history does not have yet.

Example:
  matchbox coverage triage --runs 2000`,
	Args: cobra.ExactArgs(1),
	RunE: runCoverage,
}

func init() {
	coverageCmd.Flags().IntVar(&coverageRuns, "runs", 1000, "Recent runs to fold in")
}

func runCoverage(cmd *cobra.Command, args []string) error {
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
	ix, err := buildIndex(reg, st, coverageRuns)
	if err != nil {
		return err
	}
	// A ruleset resolved out of the store is not in the registry, so its
	// arms are not indexed yet.
	if _, ok := reg.Ruleset(rs.Name); !ok {
		if err := ix.IngestLibrary(rs.Library()); err != nil {
			return err
		}
	}

	report, err := ix.Coverage(rs.Name)
	if err != nil {
		return err
	}
	printCoverage(report)
	return nil
}

// buildIndex loads every registry ruleset into a fresh trace index and folds
// in the stored run history, so reports see past runs without a live trace.
func buildIndex(reg *ruleset.Registry, st *store.Store, runs int) (*audit.Index, error) {
	ix, err := audit.NewIndex(audit.Config{
		FactLimit:    cfg.Audit.FactLimit,
		QueryTimeout: cfg.GetQueryTimeout(),
	}, logger)
	if err != nil {
		return nil, err
	}
	for _, f := range reg.Files() {
		if err := ix.IngestLibrary(f.Library); err != nil {
			return nil, err
		}
	}
	if st == nil {
		return ix, nil
	}
	history, err := st.RecentRuns("", runs)
	if err != nil {
		return nil, err
	}
	for _, run := range history {
		if err := ix.IngestOutcome(run.ID, run.Ruleset, run.Outcome, run.ArmIndex); err != nil {
			logger.Warn("skipping stored run", zap.String("run", run.ID), zap.Error(err))
		}
	}
	return ix, nil
}

func printCoverage(rep *audit.CoverageReport) {
	if len(rep.Arms) == 0 {
		fmt.Printf("%s: no arms indexed\n", rep.Ruleset)
		return
	}
	fmt.Printf("inspect %s\n", rep.Ruleset)
	for _, arm := range rep.Arms {
		mark := ""
		if arm.Matches == 0 {
			mark = "  cold"
		}
		fmt.Printf("  arm %-3d %6d  %s%s\n", arm.Arm, arm.Matches, arm.Pattern, mark)
	}
	if len(rep.Cold) > 0 {
		fmt.Printf("%d of %d arms never matched\n", len(rep.Cold), len(rep.Arms))
	}
}
