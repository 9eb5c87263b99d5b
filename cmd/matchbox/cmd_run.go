package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matchbox/internal/audit"
	"matchbox/internal/match"
	"matchbox/internal/value"
)

var (
	runCorpusPath string
	runParallel   int
	runNoStore    bool
)

// runCmd applies a ruleset over a JSONL corpus
var runCmd = &cobra.Command{
	Use:   "run <ruleset> --corpus file.jsonl",
	Short: "Apply a ruleset over a corpus of subjects",
	Long: `Applies a ruleset to every subject in a JSONL corpus (one JSON value
per line) and summarizes the outcomes: which arms fired how often, which
never fired, and which subjects matched nothing.

Runs are recorded to the store unless --no-store is given, so later
"matchbox coverage" calls see them too.

Example:
  matchbox run triage --corpus tickets.jsonl --parallel 8`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpus,
}

func init() {
	runCmd.Flags().StringVar(&runCorpusPath, "corpus", "", "JSONL file of subjects (required)")
	runCmd.Flags().IntVar(&runParallel, "parallel", 4, "Concurrent applies")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not record the runs")
	runCmd.MarkFlagRequired("corpus")
}

type corpusResult struct {
	outcome string
	arm     int
	err     error
}

func runCorpus(cmd *cobra.Command, args []string) error {
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
	subjects, err := readCorpus(runCorpusPath)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return fmt.Errorf("corpus %s is empty", runCorpusPath)
	}
	if runParallel < 1 {
		runParallel = 1
	}

	col := match.NewCollector()
	eng, err := newEngine(col)
	if err != nil {
		return err
	}
	ix, err := audit.NewIndex(audit.Config{
		FactLimit:    cfg.Audit.FactLimit,
		QueryTimeout: cfg.GetQueryTimeout(),
	}, logger)
	if err != nil {
		return err
	}
	if err := ix.IngestLibrary(rs.Library()); err != nil {
		return err
	}

	start := time.Now()
	results := make([]corpusResult, len(subjects))
	eg, egCtx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(runParallel)
	for i, subj := range subjects {
		i, subj := i, subj
		eg.Go(func() error {
			actx, cancel := context.WithTimeout(egCtx, cfg.GetApplyTimeout())
			defer cancel()

			result, outcome, applyErr := eng.Apply(actx, rs, subj)
			switch {
			case applyErr == nil:
				results[i] = corpusResult{outcome: "matched", arm: outcome.ArmIndex}
			case errors.Is(applyErr, match.ErrNoMatch):
				results[i] = corpusResult{outcome: "no-match", arm: -1}
			default:
				results[i] = corpusResult{outcome: "error", arm: outcome.ArmIndex, err: applyErr}
			}
			if st != nil && !runNoStore {
				recordRun(st, rs.Name, subj, result, outcome, applyErr)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := ix.IngestTrace(col.Events()); err != nil {
		return err
	}

	counts := map[string]int{}
	for i, r := range results {
		counts[r.outcome]++
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "subject %d: %v\n", i+1, r.err)
		}
	}
	fmt.Printf("%d subjects in %s: %d matched, %d no-match, %d errors\n",
		len(subjects), elapsed.Round(time.Millisecond),
		counts["matched"], counts["no-match"], counts["error"])

	report, err := ix.Coverage(rs.Name)
	if err != nil {
		return err
	}
	printCoverage(report)

	if counts["error"] > 0 {
		return errQuiet
	}
	return nil
}

// readCorpus decodes one JSON subject per non-blank line.
func readCorpus(path string) ([]value.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var subjects []value.Value
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		v, err := value.DecodeJSON(text)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		subjects = append(subjects, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return subjects, nil
}
