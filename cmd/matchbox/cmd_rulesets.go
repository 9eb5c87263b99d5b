package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"matchbox/internal/analysis"
	"matchbox/internal/ruleset"
	"matchbox/internal/store"
)

// rulesetsCmd groups the archive subcommands
var rulesetsCmd = &cobra.Command{
	Use:   "rulesets",
	Short: "Manage the ruleset archive",
	Long: `Saves, lists, shows, and deletes rulesets in the SQLite archive. Saved
rulesets resolve by name in apply and run even when no .match file is on
disk, and they keep their last compile status and diagnostics.`,
}

var rulesetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the archived rulesets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListRulesets()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("archive is empty")
			return nil
		}
		for _, rec := range records {
			status := "ok"
			if !rec.CompiledOK {
				status = "broken"
			}
			fmt.Printf("%-24s %-7s %s  %s\n",
				rec.Name, status, rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
				rec.ContentHash[:12])
		}
		return nil
	},
}

var rulesetsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print an archived ruleset's source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetRuleset(args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("ruleset %q is not in the archive", args[0])
		}
		fmt.Print(rec.Source)
		if !strings.HasSuffix(rec.Source, "\n") {
			fmt.Println()
		}
		for _, d := range rec.Diagnostics {
			fmt.Fprintln(os.Stderr, d.String())
		}
		return nil
	},
}

var rulesetsSaveCmd = &cobra.Command{
	Use:   "save <file.match>",
	Short: "Archive a ruleset file",
	Long: `Compiles a .match file, runs analysis, and saves the source with its
compile status into the archive. Files that do not compile are saved too,
marked broken, so the source is not lost.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rec := &store.RulesetRecord{
			Name:   strings.TrimSuffix(filepath.Base(path), ruleset.Ext),
			Source: string(src),
		}
		f, parseErr := ruleset.Parse(path, src)
		if parseErr != nil {
			rec.Diagnostics = []analysis.Diagnostic{{
				Severity: analysis.SeverityError,
				Code:     "parse",
				Message:  parseErr.Error(),
			}}
		} else {
			rec.Name = f.Name
			rec.CompiledOK = true
			for _, report := range analysis.Check(f.Library) {
				rec.Diagnostics = append(rec.Diagnostics, report.Diagnostics...)
			}
		}
		if err := st.SaveRuleset(rec); err != nil {
			return err
		}

		if !rec.CompiledOK {
			fmt.Printf("saved %s (broken)\n", rec.Name)
		} else if len(rec.Diagnostics) > 0 {
			fmt.Printf("saved %s with %d finding(s)\n", rec.Name, len(rec.Diagnostics))
		} else {
			fmt.Printf("saved %s\n", rec.Name)
		}
		for _, d := range rec.Diagnostics {
			fmt.Println("  " + d.String())
		}
		return nil
	},
}

var rulesetsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a ruleset from the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteRuleset(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}
