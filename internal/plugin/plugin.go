// Package plugin loads extractor plugins: Go files interpreted with yaegi,
// each defining Extract over the JSON encoding of values. Interpretation
// avoids a toolchain dependency and keeps plugins sandboxed to an import
// allowlist.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// DefaultTimeout bounds one plugin call.
const DefaultTimeout = 5 * time.Second

// extractFunc is the contract a plugin file must satisfy:
// func Extract(input string) (string, bool, error), where input is the JSON
// encoding of the subject and the returned string is the JSON encoding of
// the derived value. ok=false is extraction failure, not an error.
type extractFunc = func(string) (string, bool, error)

// Loader interprets plugin files and registers them as extractors. The
// extractor name is the file name without .go.
type Loader struct {
	registry *match.Registry
	logger   *zap.Logger
	timeout  time.Duration
	allowed  map[string]bool
}

// NewLoader returns a loader registering into registry. A non-positive
// timeout falls back to DefaultTimeout.
func NewLoader(registry *match.Registry, timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Loader{
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		allowed: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
			"unicode/utf8":    true,
			// Filesystem, network, exec, and unsafe packages stay out.
		},
	}
}

// LoadDir loads every plugin file in dir, skipping hidden and underscore
// files. A file that fails to load is logged and reported in the aggregate
// error; the rest still load. A missing dir loads nothing.
func (l *Loader) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loaded []string
	var errs error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") ||
			strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := l.LoadFile(path); err != nil {
			l.logger.Warn("plugin failed to load", zap.String("path", path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		loaded = append(loaded, strings.TrimSuffix(name, ".go"))
	}
	sort.Strings(loaded)
	return loaded, errs
}

// LoadFile interprets one plugin file and registers it.
func (l *Loader) LoadFile(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), ".go")
	if !pattern.IsBindingName(name) {
		return fmt.Errorf("plugin file name %q is not a usable extractor name", name)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fn, err := l.compile(string(code))
	if err != nil {
		return err
	}
	if err := l.registry.Register(l.wrap(name, path, fn)); err != nil {
		return err
	}
	l.logger.Info("loaded extractor plugin",
		zap.String("name", name),
		zap.String("path", path))
	return nil
}

// compile validates imports, evaluates the code in a fresh interpreter, and
// returns the Extract function.
func (l *Loader) compile(code string) (extractFunc, error) {
	if err := l.validateImports(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, fmt.Errorf("evaluate plugin: %w", err)
	}

	v, err := i.Eval("main.Extract")
	if err != nil {
		return nil, fmt.Errorf("Extract not found: %w", err)
	}
	fn, ok := v.Interface().(extractFunc)
	if !ok {
		return nil, fmt.Errorf("Extract has wrong signature, want func(string) (string, bool, error)")
	}
	return fn, nil
}

// wrap bridges the interpreted function into a match.Extractor: the subject
// is JSON-encoded, the plugin runs under a per-call timeout, and its output
// is decoded back into a value.
func (l *Loader) wrap(name, path string, fn extractFunc) match.Extractor {
	timeout := l.timeout
	return match.Extractor{
		Name: name,
		Doc:  "plugin: " + path,
		Fn: func(subject value.Value) (value.Value, bool, error) {
			encoded, err := value.EncodeJSON(subject)
			if err != nil {
				return nil, false, fmt.Errorf("plugin %s: encode subject: %w", name, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			type result struct {
				out string
				ok  bool
				err error
			}
			ch := make(chan result, 1)
			go func() {
				out, ok, err := fn(string(encoded))
				ch <- result{out: out, ok: ok, err: err}
			}()

			select {
			case res := <-ch:
				if res.err != nil {
					return nil, false, fmt.Errorf("plugin %s: %w", name, res.err)
				}
				if !res.ok {
					return nil, false, nil
				}
				decoded, err := value.DecodeJSON([]byte(res.out))
				if err != nil {
					return nil, false, fmt.Errorf("plugin %s: decode result %q: %w", name, res.out, err)
				}
				return decoded, true, nil
			case <-ctx.Done():
				return nil, false, fmt.Errorf("plugin %s timed out: %w", name, ctx.Err())
			}
		},
	}
}

// validateImports rejects plugins importing outside the allowlist. Aliased
// imports are rejected with the rest; plugins import packages plainly.
func (l *Loader) validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock && strings.HasPrefix(trimmed, ")") {
			inBlock = false
			continue
		}

		var pkg string
		switch {
		case inBlock:
			pkg = strings.Trim(trimmed, `"`)
		case strings.HasPrefix(trimmed, "import "):
			pkg = strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
		}
		if pkg == "" || strings.HasPrefix(pkg, "//") {
			continue
		}
		if !l.allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports %v (allowed: %v)", forbidden, l.allowedList())
	}
	return nil
}

func (l *Loader) allowedList() []string {
	pkgs := make([]string, 0, len(l.allowed))
	for pkg := range l.allowed {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
