// Package watcher reports when an index directory is rebuilt or edited in place, using fsnotify
// with per-directory debouncing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches index directories and calls onChange once per burst of changes.
type Watcher struct {
	dirs        []string
	onChange    func(dir string)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a directory must be quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the given index directories. The directories do not need
// to exist yet; their parents are watched so a first build or an atomic swap is seen.
func NewWatcher(indexDirs []string, onChange func(dir string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		onChange:    onChange,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, d := range indexDirs {
		if abs, err := filepath.Abs(d); err == nil {
			w.dirs = append(w.dirs, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("index_dirs", w.dirs))
	}
	for _, dir := range w.dirs {
		if err := w.addDirLocked(dir); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

// addDirLocked watches the parent of dir, creating it if needed, and dir itself when present.
func (w *Watcher) addDirLocked(dir string) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(parent); err != nil {
		return err
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	dir := w.owner(ev.Name)
	if dir == "" {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	w.debounceChange(dir)
}

// owner returns the watched index directory that path is, or is directly inside.
func (w *Watcher) owner(path string) string {
	clean := filepath.Clean(path)
	for _, dir := range w.dirs {
		if clean == dir || filepath.Dir(clean) == dir {
			return dir
		}
	}
	return ""
}

func (w *Watcher) debounceChange(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[dir]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, dir)
		logger := w.logger
		// a swapped-in directory is a new inode; watch it again
		if w.watcher != nil {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				_ = w.watcher.Add(dir)
			}
		}
		w.mu.Unlock()
		if logger != nil {
			logger.Debug("index directory changed (debounced)", zap.String("dir", dir))
		}
		if w.onChange != nil {
			w.onChange(dir)
		}
	})
	w.debounceMap[dir] = t
}

// Directories returns a copy of the watched index directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for dir, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, dir)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
