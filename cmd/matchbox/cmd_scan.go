package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"matchbox/internal/scan"
)

var scanOut string

// scanCmd lifts Go type switches into ruleset drafts
var scanCmd = &cobra.Command{
	Use:   "scan <path>...",
	Short: "Draft rulesets from the type switches in Go source",
	Long: `Parses Go files and lifts every type switch into a ruleset draft: one
arm per case, results left as nil placeholders for the author to fill in.
Directory arguments are walked recursively.

Drafts print to stdout unless --out names a directory to write them into,
one .match file per draft.

Example:
  matchbox scan internal/parser main.go --out .matchbox/drafts`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanOut, "out", "", "Directory to write drafts into")
}

func runScan(cmd *cobra.Command, args []string) error {
	sc := scan.NewScanner(logger)
	defer sc.Close()

	var drafts []scan.Draft
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		var found []scan.Draft
		if info.IsDir() {
			found, err = sc.ScanDir(cmd.Context(), arg)
		} else {
			found, err = sc.ScanFile(cmd.Context(), arg)
		}
		if err != nil {
			return err
		}
		drafts = append(drafts, found...)
	}
	if len(drafts) == 0 {
		fmt.Println("no type switches found")
		return nil
	}

	if scanOut == "" {
		for i, d := range drafts {
			if i > 0 {
				fmt.Println()
			}
			fmt.Print(d.Render())
		}
		fmt.Printf("\n%d draft(s)\n", len(drafts))
		return nil
	}

	if err := os.MkdirAll(scanOut, 0755); err != nil {
		return err
	}
	used := map[string]int{}
	for _, d := range drafts {
		name := d.Name
		if n := used[d.Name]; n > 0 {
			name = fmt.Sprintf("%s_%d", d.Name, n+1)
		}
		used[d.Name]++
		path := filepath.Join(scanOut, name+".match")
		if err := os.WriteFile(path, []byte(d.Render()), 0644); err != nil {
			return err
		}
		fmt.Printf("%s  (from %s:%d)\n", path, d.File, d.Line)
	}
	fmt.Printf("%d draft(s) written to %s\n", len(drafts), scanOut)
	return nil
}
