package services

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"aiconsole/internal/events"
	"aiconsole/internal/storage"
)

// SettingsFileName is the project settings document.
const SettingsFileName = "settings.toml"

type settingsDocument struct {
	Assets map[string]bool `toml:"assets"`
}

// SettingsService holds the per-project enabled/disabled overlay for assets.
type SettingsService struct {
	mu            sync.RWMutex
	path          string
	assets        map[string]bool
	bus           *events.Bus
	notifications *Notifications
}

// NewSettingsService creates an empty settings store. bus and notifications may be nil.
func NewSettingsService(bus *events.Bus, notifications *Notifications) *SettingsService {
	return &SettingsService{
		assets:        make(map[string]bool),
		bus:           bus,
		notifications: notifications,
	}
}

// Load reads <projectDir>/settings.toml. A missing file is an empty overlay.
func (s *SettingsService) Load(projectDir string) error {
	path := filepath.Join(projectDir, SettingsFileName)

	var doc settingsDocument
	if _, err := toml.DecodeFile(path, &doc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if doc.Assets == nil {
		doc.Assets = make(map[string]bool)
	}

	s.mu.Lock()
	s.path = path
	s.assets = doc.Assets
	s.mu.Unlock()

	log.Printf("⚙️ [SETTINGS] Loaded %d asset overrides from %s", len(doc.Assets), path)
	return nil
}

// IsEnabled returns the stored flag for id and whether one exists.
func (s *SettingsService) IsEnabled(id string) (enabled bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok = s.assets[id]
	return enabled, ok
}

// SetEnabled stores the flag for id.
func (s *SettingsService) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	s.assets[id] = enabled
	s.mu.Unlock()
	return s.save()
}

// Rename moves the flag stored for oldID to newID.
func (s *SettingsService) Rename(oldID, newID string) error {
	s.mu.Lock()
	enabled, ok := s.assets[oldID]
	if !ok || oldID == newID {
		s.mu.Unlock()
		return nil
	}
	delete(s.assets, oldID)
	s.assets[newID] = enabled
	s.mu.Unlock()
	return s.save()
}

// Remove drops the flag stored for id.
func (s *SettingsService) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.assets[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.assets, id)
	s.mu.Unlock()
	return s.save()
}

func (s *SettingsService) save() error {
	s.mu.RLock()
	path := s.path
	doc := settingsDocument{Assets: make(map[string]bool, len(s.assets))}
	for id, enabled := range s.assets {
		doc.Assets[id] = enabled
	}
	s.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("settings not loaded")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if s.notifications != nil {
		s.notifications.SuppressNextNotification()
	}
	if err := storage.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if s.bus != nil {
		s.bus.Emit(events.SettingsUpdated{})
	}
	return nil
}
