// Package scan drafts rulesets from Go sources: every type switch found by
// tree-sitter becomes a commented .match skeleton with one arm per case.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"go.uber.org/zap"
)

// DraftArm is one case clause mapped onto a pattern arm.
type DraftArm struct {
	CaseType string // Go type text as written, empty for default
	Tag      string // alternative tag; empty when the type has no tag form
	Pointer  bool   // the case matched *T
	Default  bool
}

// Draft is one type switch lifted to a ruleset skeleton.
type Draft struct {
	File    string
	Line    int
	Func    string // enclosing function or method, empty at top level
	Subject string // switch subject expression text
	Alias   string // v in `switch v := subj.(type)`, empty when absent
	Name    string // suggested ruleset name
	Arms    []DraftArm
}

// Header reconstructs the switch header the draft came from.
func (d Draft) Header() string {
	if d.Alias != "" {
		return fmt.Sprintf("switch %s := %s.(type)", d.Alias, d.Subject)
	}
	return fmt.Sprintf("switch %s.(type)", d.Subject)
}

// Render returns the draft as .match text. Every result is a nil placeholder
// with the original Go case kept in a comment above the arm; the author
// completes the results before the draft is usable.
func (d Draft) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# drafted from %s:%d (%s)\n", d.File, d.Line, d.Header())
	fmt.Fprintf(&b, "inspect %s {\n", d.Name)
	for _, arm := range d.Arms {
		if arm.Default {
			b.WriteString("  # default\n")
		} else {
			fmt.Fprintf(&b, "  # case %s\n", arm.CaseType)
		}
		fmt.Fprintf(&b, "  %s => nil,  # todo: replace the result\n", arm.pattern(d.Alias))
	}
	b.WriteString("}\n")
	return b.String()
}

func (a DraftArm) pattern(alias string) string {
	if a.Default || a.Tag == "" {
		if alias != "" {
			return alias
		}
		return "_"
	}
	p := "<" + a.Tag + ">"
	if alias != "" {
		p += " " + alias
	}
	return p
}

// Scanner parses Go files with tree-sitter and extracts type switches. Not
// safe for concurrent use; one scanner per goroutine.
type Scanner struct {
	parser *sitter.Parser
	logger *zap.Logger
}

// NewScanner returns a scanner with the Go grammar loaded.
func NewScanner(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &Scanner{parser: p, logger: logger}
}

// Close releases the parser.
func (s *Scanner) Close() {
	s.parser.Close()
}

// ScanFile extracts drafts from one Go file. Non-Go files are skipped with a
// warning rather than an error.
func (s *Scanner) ScanFile(ctx context.Context, path string) ([]Draft, error) {
	if !strings.HasSuffix(path, ".go") {
		s.logger.Warn("skipping non-Go file", zap.String("path", path))
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, path, content)
}

// ScanDir walks dir recursively and extracts drafts from every Go file.
// Hidden, underscore, vendor, and testdata directories are skipped, and
// unparsable files are warned about rather than aborting the walk.
func (s *Scanner) ScanDir(ctx context.Context, dir string) ([]Draft, error) {
	var drafts []Draft
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path == dir {
				return nil
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				name == "vendor" || name == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		found, err := s.ScanFile(ctx, path)
		if err != nil {
			s.logger.Warn("skipping unparsable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		drafts = append(drafts, found...)
		return nil
	})
	return drafts, err
}

// Scan extracts drafts from in-memory Go source.
func (s *Scanner) Scan(ctx context.Context, path string, content []byte) ([]Draft, error) {
	tree, err := s.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	var drafts []Draft
	var walk func(n *sitter.Node, fn string)
	walk = func(n *sitter.Node, fn string) {
		switch n.Type() {
		case "function_declaration", "method_declaration":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				fn = nameNode.Content(content)
			}
		case "type_switch_statement":
			drafts = append(drafts, s.draft(n, path, fn, content))
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), fn)
		}
	}
	walk(tree.RootNode(), "")

	s.logger.Debug("scanned file",
		zap.String("path", path),
		zap.Int("drafts", len(drafts)))
	return drafts, nil
}

// goTypeKinds are the node kinds a type_case lists before its statements.
var goTypeKinds = map[string]bool{
	"type_identifier":    true,
	"pointer_type":       true,
	"qualified_type":     true,
	"generic_type":       true,
	"slice_type":         true,
	"array_type":         true,
	"map_type":           true,
	"struct_type":        true,
	"interface_type":     true,
	"channel_type":       true,
	"function_type":      true,
	"parenthesized_type": true,
}

func (s *Scanner) draft(n *sitter.Node, path, fn string, content []byte) Draft {
	d := Draft{
		File: path,
		Line: int(n.StartPoint().Row) + 1,
		Func: fn,
	}
	if v := n.ChildByFieldName("value"); v != nil {
		d.Subject = v.Content(content)
	}
	if a := n.ChildByFieldName("alias"); a != nil {
		d.Alias = a.Content(content)
	}
	d.Name = suggestName(fn, d.Subject)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		switch clause.Type() {
		case "type_case":
			for j := 0; j < int(clause.NamedChildCount()); j++ {
				t := clause.NamedChild(j)
				kind := t.Type()
				if kind == "comment" {
					continue
				}
				if !goTypeKinds[kind] {
					// Statements follow the listed types.
					break
				}
				arm := DraftArm{CaseType: t.Content(content)}
				if kind == "pointer_type" {
					arm.Pointer = true
					if elem := t.NamedChild(0); elem != nil {
						arm.Tag = tagFor(elem.Content(content))
					} else {
						arm.Tag = tagFor(strings.TrimPrefix(arm.CaseType, "*"))
					}
				} else {
					arm.Tag = tagFor(arm.CaseType)
				}
				d.Arms = append(d.Arms, arm)
			}
		case "default_case":
			d.Arms = append(d.Arms, DraftArm{Default: true})
		}
	}
	return d
}

// tagFor turns a Go type expression into an alternative tag: qualifiers are
// stripped, and composite types that have no identifier form yield an empty
// tag, which renders as a wildcard arm.
func tagFor(goType string) string {
	t := goType
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	if !isIdent(t) {
		return ""
	}
	return t
}

func suggestName(fn, subject string) string {
	base := sanitizeIdent(fn)
	if base == "" {
		base = "match"
	}
	subj := subject
	if i := strings.LastIndex(subj, "."); i >= 0 {
		subj = subj[i+1:]
	}
	if subj = sanitizeIdent(subj); subj != "" {
		base += "_" + subj
	}
	return strings.ToLower(base)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
