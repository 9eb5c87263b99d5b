// Package ruleset loads .match files. A file optionally opens with YAML
// frontmatter between `---` fences declaring a name, variant types, and
// constants; the rest of the file is `inspect` blocks. Parsing keeps file
// line numbers intact so compile errors point at the real line.
package ruleset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// Ext is the ruleset file extension.
const Ext = ".match"

// File is one parsed and compiled ruleset file.
type File struct {
	Path    string
	Name    string // frontmatter name, or the file stem
	Library *match.Library
}

// Rulesets returns the ruleset names the file defines, in order.
func (f *File) Rulesets() []string { return f.Library.Names() }

// frontmatter mirrors the YAML header. Types and consts stay as nodes:
// mapping order is semantic (alternative indexes, constant references), and
// decoding into a Go map would lose it.
type frontmatter struct {
	Name   string    `yaml:"name"`
	Types  yaml.Node `yaml:"types"`
	Consts yaml.Node `yaml:"consts"`
}

// Load reads and parses one ruleset file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(path, data)
}

// Parse parses and compiles ruleset source. path labels errors and names the
// file when the frontmatter does not.
func Parse(path string, src []byte) (*File, error) {
	header, body, bodyLine, err := splitFrontmatter(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f := &File{Path: path, Name: stem(path)}
	decls := pattern.NewDecls()
	consts := make(map[string]value.Value)
	if header != nil {
		var fm frontmatter
		if err := yaml.Unmarshal(header, &fm); err != nil {
			return nil, fmt.Errorf("%s: frontmatter: %w", path, err)
		}
		if fm.Name != "" {
			f.Name = fm.Name
		}
		if err := declareTypes(&fm.Types, decls); err != nil {
			return nil, fmt.Errorf("%s: frontmatter: %w", path, err)
		}
		if err := declareConsts(&fm.Consts, decls, consts); err != nil {
			return nil, fmt.Errorf("%s: frontmatter: %w", path, err)
		}
	}
	blocks, err := pattern.ParseBlocks(string(body), bodyLine)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	lib, err := match.Compile(match.Source{Name: path, Decls: decls, Consts: consts, Blocks: blocks})
	if err != nil {
		return nil, err
	}
	f.Library = lib
	return f, nil
}

// splitFrontmatter separates the YAML header from the body and reports the
// 1-based file line the body starts on.
func splitFrontmatter(src []byte) (header, body []byte, bodyLine int, err error) {
	lines := strings.Split(string(src), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return nil, src, 1, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			header = []byte(strings.Join(lines[1:i], "\n"))
			body = []byte(strings.Join(lines[i+1:], "\n"))
			return header, body, i + 2, nil
		}
	}
	return nil, nil, 0, fmt.Errorf("frontmatter is not terminated; missing closing ---")
}

// declareTypes registers each `types:` entry. Values are alternative lists
// like `int(int) | Neg{expr: &Expr}`.
func declareTypes(node *yaml.Node, decls *pattern.Decls) error {
	entries, err := mappingEntries(node, "types")
	if err != nil {
		return err
	}
	for _, e := range entries {
		decl, err := pattern.ParseVariantDecl(e.key, e.val)
		if err != nil {
			return fmt.Errorf("types: %s: %w", e.key, err)
		}
		if err := decls.Add(decl); err != nil {
			return fmt.Errorf("types: %w", err)
		}
	}
	return nil
}

// declareConsts evaluates each `consts:` entry in order, so a constant can
// reference the ones declared above it and any nullary alternative tag.
func declareConsts(node *yaml.Node, decls *pattern.Decls, consts map[string]value.Value) error {
	entries, err := mappingEntries(node, "consts")
	if err != nil {
		return err
	}
	for _, e := range entries {
		expr, err := pattern.ParseExpr(e.val)
		if err != nil {
			return fmt.Errorf("consts: %s: %w", e.key, err)
		}
		v, err := match.EvalConst(expr, decls, consts)
		if err != nil {
			return fmt.Errorf("consts: %s: %w", e.key, err)
		}
		consts[e.key] = v
	}
	return nil
}

type mappingEntry struct {
	key, val string
}

func mappingEntries(node *yaml.Node, section string) ([]mappingEntry, error) {
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a mapping", section)
	}
	entries := make([]mappingEntry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s: entries must be scalar strings", section)
		}
		entries = append(entries, mappingEntry{key: k.Value, val: v.Value})
	}
	return entries, nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Ext)
}
