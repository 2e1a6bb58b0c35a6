package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aiconsole/internal/models"
)

// moveToTrash moves path into trashDir, suffixing the name with a timestamp
// when a file of the same name was trashed before.
func moveToTrash(path, trashDir string) (string, error) {
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return "", fmt.Errorf("create trash dir: %w", err)
	}

	base := filepath.Base(path)
	dest := filepath.Join(trashDir, base)
	if fileExists(dest) {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(trashDir, fmt.Sprintf("%s-%s%s", stem, time.Now().Format("20060102-150405.000000000"), ext))
	}

	if err := os.Rename(path, dest); err != nil {
		// Cross-device trash: copy then remove.
		if cerr := copyFile(path, dest); cerr != nil {
			return "", fmt.Errorf("move to trash: %w", err)
		}
		if rerr := os.Remove(path); rerr != nil {
			return "", fmt.Errorf("remove after trash copy: %w", rerr)
		}
	}
	// The trash time is what retention is measured from.
	now := time.Now()
	_ = os.Chtimes(dest, now, now)
	return dest, nil
}

// PurgeTrash permanently removes trashed files older than maxAge from every
// asset type's trash directory and returns how many were removed.
func (s *FileStorage) PurgeTrash(maxAge time.Duration) (int, error) {
	paths, err := s.checkConfigured()
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, t := range models.AssetTypes {
		dir := paths.TrashDir(t)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("read trash %s: %w", t.Dir(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("purge %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
