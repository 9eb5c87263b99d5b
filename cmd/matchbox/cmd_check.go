package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbox/internal/analysis"
	"matchbox/internal/ruleset"
)

var (
	checkWatch  bool
	checkFormat string
)

// checkCmd compiles and analyzes ruleset files
var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Compile and analyze ruleset files",
	Long: `Compiles .match files and reports what running them would not:
arms that can never match, subjects no arm covers (with an example), shape
conflicts against the declared types, and naming lints.

Paths may be files or directories; with none given, the configured ruleset
directories are checked. --watch keeps checking as files change.

Exits 1 when any file fails to compile or analysis finds an error.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkWatch, "watch", false, "Re-check files as they change")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "Output format: text or json")
}

// fileReport is the per-file check result, shaped for --format json.
type fileReport struct {
	File    string             `json:"file"`
	Error   string             `json:"error,omitempty"`
	Reports []*analysis.Report `json:"reports,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q (valid: text, json)", checkFormat)
	}

	paths := args
	if len(paths) == 0 {
		paths = cfg.Rulesets.Dirs
	}
	files, dirs, err := collectMatchFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 && !checkWatch {
		return fmt.Errorf("no %s files under %v", ruleset.Ext, paths)
	}

	problems := reportFiles(checkFiles(files))
	if checkWatch {
		return watchCheck(cmd.Context(), dirs)
	}
	if problems > 0 {
		return errQuiet
	}
	return nil
}

// collectMatchFiles expands paths into .match files and the directories to
// watch. A directory contributes its immediate .match entries.
func collectMatchFiles(paths []string) (files, dirs []string, err error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		dirs = append(dirs, p)
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ruleset.Ext {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, dirs, nil
}

func checkFiles(files []string) []fileReport {
	out := make([]fileReport, 0, len(files))
	for _, path := range files {
		fr := fileReport{File: path}
		f, err := ruleset.Load(path)
		if err != nil {
			fr.Error = err.Error()
		} else {
			fr.Reports = analysis.Check(f.Library)
		}
		out = append(out, fr)
	}
	return out
}

// reportFiles prints the check results and returns the problem count:
// compile failures plus error-severity diagnostics.
func reportFiles(reports []fileReport) int {
	problems := 0
	for _, fr := range reports {
		if fr.Error != "" {
			problems++
		}
		for _, rep := range fr.Reports {
			if rep.HasErrors() {
				problems++
			}
		}
	}

	if checkFormat == "json" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return problems + 1
		}
		fmt.Println(string(data))
		return problems
	}

	for _, fr := range reports {
		if fr.Error != "" {
			fmt.Printf("%s:\n%s\n", fr.File, indent(fr.Error))
			continue
		}
		clean := true
		for _, rep := range fr.Reports {
			for _, d := range rep.Diagnostics {
				fmt.Printf("%s: %s\n", fr.File, d)
				clean = false
			}
		}
		if clean {
			fmt.Printf("%s: ok (%d rulesets)\n", fr.File, len(fr.Reports))
		}
	}
	if problems > 0 {
		fmt.Printf("%d problem(s)\n", problems)
	}
	return problems
}

// watchCheck re-checks a file whenever the watcher reloads it. Blocks until
// interrupted.
func watchCheck(ctx context.Context, dirs []string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("--watch needs directory paths")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	reg := ruleset.NewRegistry(logger)
	var watchers []*ruleset.Watcher
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()

	for _, dir := range dirs {
		w, err := ruleset.NewWatcher(dir, reg, logger)
		if err != nil {
			return err
		}
		w.OnChange = func(path string, err error) {
			if err != nil {
				fmt.Printf("%s:\n%s\n", path, indent(err.Error()))
				return
			}
			reportFiles(checkFiles([]string{path}))
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		watchers = append(watchers, w)
		logger.Info("checking on change", zap.String("dir", dir))
	}

	<-ctx.Done()
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
