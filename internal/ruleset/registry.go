package ruleset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"matchbox/internal/match"
)

// Registry holds the loaded ruleset files and resolves rulesets by name.
// Ruleset names are unique across the registry, so `matchbox apply eval`
// means the same thing regardless of which file defines eval.
type Registry struct {
	mu     sync.RWMutex
	files  map[string]*File  // keyed by path
	owner  map[string]string // ruleset name -> path
	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		files:  make(map[string]*File),
		owner:  make(map[string]string),
		logger: logger,
	}
}

// LoadDir loads every .match file directly under dir, in name order. All
// failures are reported together; files that load cleanly stay registered.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read ruleset dir: %w", err)
	}
	var errs error
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		if err := r.Load(filepath.Join(dir, e.Name())); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Load parses path and registers it, replacing any prior version of the
// same file.
func (r *Registry) Load(path string) error {
	f, err := Load(path)
	if err != nil {
		return err
	}
	return r.Add(f)
}

// Add registers a parsed file. A ruleset name already owned by a different
// path is a conflict and rejects the whole file.
func (r *Registry) Add(f *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range f.Library.Names() {
		if owner, taken := r.owner[name]; taken && owner != f.Path {
			return fmt.Errorf("%s: ruleset %q already defined in %s", f.Path, name, owner)
		}
	}
	r.dropLocked(f.Path)
	r.files[f.Path] = f
	for _, name := range f.Library.Names() {
		r.owner[name] = f.Path
	}
	r.logger.Debug("ruleset file registered",
		zap.String("path", f.Path),
		zap.Strings("rulesets", f.Library.Names()))
	return nil
}

// Remove forgets a file and the rulesets it defined.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(path)
}

func (r *Registry) dropLocked(path string) {
	if _, loaded := r.files[path]; !loaded {
		return
	}
	delete(r.files, path)
	for name, owner := range r.owner {
		if owner == path {
			delete(r.owner, name)
		}
	}
}

// Ruleset resolves a ruleset by name across all loaded files.
func (r *Registry) Ruleset(name string) (*match.Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.owner[name]
	if !ok {
		return nil, false
	}
	return r.files[path].Library.Ruleset(name)
}

// File returns the loaded file at path.
func (r *Registry) File(path string) (*File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[path]
	return f, ok
}

// Files returns the loaded files sorted by path.
func (r *Registry) Files() []*File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*File, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Names returns every ruleset name: files in path order, rulesets in
// declaration order within each file.
func (r *Registry) Names() []string {
	var names []string
	for _, f := range r.Files() {
		names = append(names, f.Library.Names()...)
	}
	return names
}

// Len is the number of loaded files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}
