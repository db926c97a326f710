package scanner

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively watches the configured media paths and marks
// directories dirty as fsnotify reports changes in them, so the next
// ScanAll can prioritize those directories first. It is a fast-path
// accelerant only: ScanAll's filepath.Walk remains the ground truth and
// runs unconditionally regardless of what the watcher has or hasn't seen.
// Ground idiom: pkg/sync/file_watcher.go's fsnotify wrapping, generalized
// from this repo's SyncEvent plumbing to directory dirty-marking.
type Watcher struct {
	watcher *fsnotify.Watcher
	watched map[string]bool

	mu    sync.Mutex
	dirty map[string]bool
}

// NewWatcher constructs a Watcher with no paths registered yet.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watcher := &Watcher{
		watcher: w,
		watched: make(map[string]bool),
		dirty:   make(map[string]bool),
	}
	go watcher.run()
	return watcher, nil
}

// AddPath recursively registers path and its subdirectories.
func (w *Watcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return filepath.Walk(path, func(sub string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if w.watched[sub] {
			return nil
		}
		if err := w.watcher.Add(sub); err != nil {
			return nil
		}
		w.watched[sub] = true
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(event.Name)
			w.mu.Lock()
			w.dirty[dir] = true
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
					w.watched[event.Name] = true
				}
			}
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// DirtyDirectories drains and returns the set of directories reported
// changed since the last drain.
func (w *Watcher) DirtyDirectories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirty))
	for d := range w.dirty {
		out = append(out, d)
	}
	w.dirty = make(map[string]bool)
	return out
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// PrioritizeDirs reorders dirs so any directory reported dirty by the
// watcher is visited first on the next ScanAll, without excluding any
// directory the walk would otherwise cover.
func (s *Scanner) PrioritizeDirs(dirs []string, dirty []string) []string {
	if len(dirty) == 0 {
		return dirs
	}
	dirtySet := make(map[string]bool, len(dirty))
	for _, d := range dirty {
		dirtySet[d] = true
	}
	var prioritized, rest []string
	for _, d := range dirs {
		isDirty := false
		for dd := range dirtySet {
			if dd == d || hasDirPrefix(dd, d) {
				isDirty = true
				break
			}
		}
		if isDirty {
			prioritized = append(prioritized, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(prioritized, rest...)
}

func hasDirPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && len(rel) > 0 && rel[0] != '.'
}
