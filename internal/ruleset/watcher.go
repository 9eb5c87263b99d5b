package ruleset

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a Registry in sync with a ruleset directory: edits reload
// the file after a debounce window, deletions unregister it.
type Watcher struct {
	mu       sync.RWMutex
	fsw      *fsnotify.Watcher
	registry *Registry
	dir      string
	debounce map[string]time.Time
	settle   time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	logger   *zap.Logger

	// OnChange, when set before Start, runs after every reload attempt
	// (with its error) and after every removal. Called from the watch
	// goroutine.
	OnChange func(path string, err error)

	stats WatcherStats
}

// WatcherStats tracks watcher activity for the status surface and tests.
type WatcherStats struct {
	Created       int
	Modified      int
	Removed       int
	Reloads       int
	Failures      int
	LastEventPath string
	LastEventTime time.Time
}

// NewWatcher builds a watcher over dir feeding reg. Call Start to begin.
func NewWatcher(dir string, reg *Registry, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		fsw:      fsw,
		registry: reg,
		dir:      dir,
		debounce: make(map[string]time.Time),
		settle:   400 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start watches the directory and runs the event loop in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsw.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.fsw.Close()
		return err
	}
	w.logger.Info("watching ruleset directory", zap.String("dir", w.dir))
	go w.run(ctx)
	return nil
}

// Stop halts the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fsw.Close(); err != nil {
		w.logger.Error("closing watcher", zap.Error(err))
	}
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			w.reloadSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, Ext) {
		return
	}
	w.mu.Lock()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()

	removed := false
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.stats.Removed++
		delete(w.debounce, event.Name)
		w.registry.Remove(event.Name)
		removed = true
	case event.Op&fsnotify.Create != 0:
		w.stats.Created++
		w.debounce[event.Name] = time.Now()
	case event.Op&fsnotify.Write != 0:
		w.stats.Modified++
		w.debounce[event.Name] = time.Now()
	}
	w.mu.Unlock()

	if removed {
		w.logger.Info("ruleset file removed", zap.String("path", event.Name))
		if w.OnChange != nil {
			w.OnChange(event.Name, nil)
		}
	}
}

// reloadSettled reloads files whose last event is past the debounce window,
// batching rapid saves into one compile.
func (w *Watcher) reloadSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounce {
		if now.Sub(at) >= w.settle {
			settled = append(settled, path)
			delete(w.debounce, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		err := w.registry.Load(path)
		w.mu.Lock()
		if err != nil {
			w.stats.Failures++
		} else {
			w.stats.Reloads++
		}
		w.mu.Unlock()
		if err != nil {
			w.logger.Warn("ruleset reload failed", zap.String("path", path), zap.Error(err))
		} else {
			w.logger.Info("ruleset reloaded", zap.String("path", path))
		}
		if w.OnChange != nil {
			w.OnChange(path, err)
		}
	}
}
