package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

var matchJSON bool

// matchCmd matches a single pattern against a single value
var matchCmd = &cobra.Command{
	Use:   "match <pattern> <value>",
	Short: "Match one pattern against one value",
	Long: `Matches a pattern against a value and prints the bindings.

The value is written in expression syntax: literals, [tuples],
{field: value} records, and Tag(...) variant constructors. Pass --json to
decode the value from JSON instead.

Examples:
  matchbox match '[x, y]' '[1, 2]'
  matchbox match '<Some> n' 'Some(3)'
  matchbox match '[user: u, age: _]' '{"user": "ada", "age": 36}' --json

Exits 1 when the pattern does not match.`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "Decode the value from JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	p, err := pattern.ParsePattern(args[0])
	if err != nil {
		return fmt.Errorf("pattern: %w", err)
	}
	if err := match.CompilePattern(p, nil, nil); err != nil {
		return fmt.Errorf("pattern: %w", err)
	}
	subject, err := parseSubject(args[1], matchJSON)
	if err != nil {
		return err
	}

	eng, err := newEngine(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetApplyTimeout())
	defer cancel()

	binds, ok, err := eng.Match(ctx, p, subject)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no match")
		return errQuiet
	}

	if binds.Len() == 0 {
		fmt.Println("match")
		return nil
	}
	for _, name := range binds.Names() {
		v, _ := binds.Get(name)
		fmt.Printf("%s = %s\n", name, v)
	}
	return nil
}

// renderValue prints v the way arms are written: expression syntax, with
// JSON available for piping.
func renderValue(v value.Value, asJSON bool) (string, error) {
	if !asJSON {
		return v.String(), nil
	}
	data, err := value.EncodeJSONIndent(v, "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
