// Package watcher recompiles loaded modules when their source changes.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mudcore/internal/compiler"
	"mudcore/internal/logging"
	"mudcore/internal/module"
	"mudcore/internal/pathutil"
)

// Target is what the watcher recompiles into.
type Target interface {
	Compile(ctx context.Context, opts compiler.Options) (*compiler.Result, error)
	Cache() *module.Cache
}

// ResultFunc observes every recompile the watcher triggers.
type ResultFunc func(path string, res *compiler.Result, err error)

// Watcher watches the source root and reloads cached modules whose source
// was written, recursively recompiling their dependents.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	target      Target
	root        string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onResult    ResultFunc
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closeOnce   sync.Once

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Recompiles    int
	Unchanged     int
	Skipped       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// New creates a watcher for the source tree under root. A zero debounce
// selects 500ms.
func New(root string, target Target, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		target:      target,
		root:        root,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// OnResult installs a callback for recompile outcomes. Call before Start.
func (w *Watcher) OnResult(fn ResultFunc) {
	w.mu.Lock()
	w.onResult = fn
	w.mu.Unlock()
}

// Start watches every directory under root. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				logging.Get(logging.CategoryWatcher).Warn("failed to watch %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watcher("watching %s (%d directories)", w.root, len(w.watcher.WatchList()))

	go w.run(ctx)
	return nil
}

// Stop stops the event loop, if running, and releases the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			logging.WatcherError("error closing watcher: %v", err)
		}
		logging.Watcher("stopped")
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatcherDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatcherError("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err == nil {
				logging.WatcherDebug("watching new directory %s", event.Name)
			}
			return
		}
	}
	if _, ok := pathutil.FromFile(w.root, event.Name); !ok {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}
	logging.WatcherDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	default:
		w.stats.FilesDeleted++
	}
	w.debounceMap[event.Name] = time.Now()
}

func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for file, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, file)
			delete(w.debounceMap, file)
		}
	}
	w.mu.Unlock()

	sort.Strings(settled)
	for _, file := range settled {
		w.reload(ctx, file)
	}
}

// reload recompiles the module backed by file if it is loaded and its
// source changed since it was compiled.
func (w *Watcher) reload(ctx context.Context, file string) {
	p, _ := pathutil.FromFile(w.root, file)
	m, err := w.target.Cache().Get(p)
	if err != nil {
		logging.WatcherDebug("%s is not loaded, ignoring change", p)
		w.count(func(s *Stats) { s.Skipped++ })
		return
	}
	src, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Watcher("source of %s removed, keeping loaded module", p)
		} else {
			logging.WatcherError("failed to read %s: %v", file, err)
			w.count(func(s *Stats) { s.Errors++ })
		}
		return
	}
	if compiler.Digest(src) == m.Digest() {
		w.count(func(s *Stats) { s.Unchanged++ })
		return
	}

	res, err := w.target.Compile(ctx, compiler.Options{Path: p, Reload: true, Flags: module.Recursive})
	w.count(func(s *Stats) {
		s.Recompiles++
		if err != nil || (res != nil && res.Err() != nil) {
			s.Errors++
		}
	})
	if err != nil {
		logging.WatcherError("reload of %s failed: %v", p, err)
	} else if berr := res.Err(); berr != nil {
		logging.Get(logging.CategoryWatcher).Warn("reload of %s finished with failures: %v", p, berr)
	} else {
		logging.Watcher("reloaded %s (%d modules, %d instances migrated)", p, len(res.Batch), len(res.Migrated))
	}

	w.mu.RLock()
	fn := w.onResult
	w.mu.RUnlock()
	if fn != nil {
		fn(p, res, err)
	}
}

func (w *Watcher) count(fn func(*Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Stats returns the current statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// ResetStats clears the statistics.
func (w *Watcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the watched directories.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

// Sync reloads every loaded module whose source differs from the source it
// was compiled from. Useful after changes made while not watching.
func (w *Watcher) Sync(ctx context.Context) {
	for _, p := range w.target.Cache().Paths() {
		w.reload(ctx, pathutil.SourceFile(w.root, p))
	}
}
