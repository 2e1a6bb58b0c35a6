package storage

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	fired := make(chan struct{}, 10)

	w, err := NewWatcher([]string{dir, filepath.Join(dir, "missing")}, 100*time.Millisecond, func() {
		calls.Add(1)
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, "asset"+string(rune('a'+i))+".toml")
		if err := WriteFileAtomic(path, []byte("name = \"x\"\n")); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected onChange after file writes")
	}
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 debounced callback, got %d", got)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()}, 0, func() {})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWatcherRequiresCallback(t *testing.T) {
	if _, err := NewWatcher(nil, 0, nil); err == nil {
		t.Error("Expected error without onChange")
	}
}

func TestWatcherIgnoresTrashAndTempFiles(t *testing.T) {
	w := &Watcher{}
	ignored := []string{
		filepath.Join("proj", trashDirName, "agents", "a.toml"),
		filepath.Join("proj", ".git", "HEAD"),
		filepath.Join("proj", "agents", ".a.toml"+tempMarker+"123"),
	}
	for _, path := range ignored {
		if !w.shouldIgnore(path) {
			t.Errorf("Expected %s to be ignored", path)
		}
	}
	if w.shouldIgnore(filepath.Join("proj", "agents", "a.toml")) {
		t.Error("Expected asset files to be watched")
	}
}

func TestWatcherSkipsFilesThatAreNotDirs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	w, err := NewWatcher([]string{file}, 0, func() {})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Stop()
	if n := len(w.fsWatcher.WatchList()); n != 0 {
		t.Errorf("Expected no watched paths, got %d", n)
	}
}
