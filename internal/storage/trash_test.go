package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aiconsole/internal/models"
)

func TestPurgeTrashRemovesOldFiles(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	dir := paths.TrashDir(models.AssetMaterial)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldFile := filepath.Join(dir, "old.toml")
	freshFile := filepath.Join(dir, "fresh.toml")
	for _, path := range []string{oldFile, freshFile} {
		if err := os.WriteFile(path, []byte("name = \"x\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PurgeTrash(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeTrash failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed file, got %d", removed)
	}
	if fileExists(oldFile) {
		t.Error("Expected old trash file to be purged")
	}
	if !fileExists(freshFile) {
		t.Error("Expected fresh trash file to be kept")
	}
}

func TestMoveToTrashStampsTrashTime(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.toml")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(src, past, past); err != nil {
		t.Fatal(err)
	}

	dest, err := moveToTrash(src, filepath.Join(root, ".trash"))
	if err != nil {
		t.Fatalf("moveToTrash failed: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Failed to stat trashed file: %v", err)
	}
	if time.Since(info.ModTime()) > time.Hour {
		t.Errorf("Expected trash time to be recent, got %v", info.ModTime())
	}
}
