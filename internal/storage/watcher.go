package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes asset directories and calls onChange once a burst of file
// events has settled for the debounce delay.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onChange func()

	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	timer     *time.Timer
	done      chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher over dirs. Directories that do not exist are skipped.
func NewWatcher(dirs []string, debounce time.Duration, onChange func()) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		dirs:      dirs,
		debounce:  debounce,
		onChange:  onChange,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			log.Printf("⚠️ [WATCHER] Failed to watch %s: %v", dir, err)
		}
	}
	return w, nil
}

// Start runs the event loop in the background until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
	log.Printf("👀 [WATCHER] Watching %d asset directories (debounce %s)", len(w.fsWatcher.WatchList()), w.debounce)
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ [WATCHER] Watcher error: %v", err)
		}
	}
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.onChange()
	})
}

// shouldIgnore skips trash, VCS and our own temp files.
func (w *Watcher) shouldIgnore(path string) bool {
	if isTempFile(path) {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == trashDirName || part == ".git" {
			return true
		}
	}
	return false
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if err := w.fsWatcher.Close(); err != nil {
			log.Printf("⚠️ [WATCHER] Failed to close watcher: %v", err)
		}
		log.Printf("✅ [WATCHER] Stopped")
	})
}
