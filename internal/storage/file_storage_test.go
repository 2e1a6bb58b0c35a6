package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aiconsole/internal/events"
	"aiconsole/internal/models"
)

func newTestStorage(t *testing.T) (*FileStorage, *events.Bus, Paths) {
	t.Helper()
	root := t.TempDir()
	paths := Paths{
		ProjectDir: filepath.Join(root, "project"),
		CoreDir:    filepath.Join(root, "core"),
	}
	bus := events.NewBus()
	s := NewFileStorage(Options{Bus: bus, DisableWatcher: true, ParseWorkers: 2})
	return s, bus, paths
}

func setup(t *testing.T, s *FileStorage, paths Paths) {
	t.Helper()
	ok, err := s.Setup(context.Background(), paths)
	if !ok || err != nil {
		t.Fatalf("Setup failed: ok=%v err=%v", ok, err)
	}
}

func newMaterial(id, name, content string) *models.Asset {
	a := &models.Asset{
		BaseObject:   models.BaseObject{ID: id},
		Type:         models.AssetMaterial,
		Name:         name,
		Usage:        "testing",
		MaterialData: &models.MaterialData{ContentType: models.ContentStaticText, Content: content},
	}
	a.Normalize()
	return a
}

func newChat(id, name string) *models.Asset {
	a := &models.Asset{
		BaseObject: models.BaseObject{ID: id},
		Type:       models.AssetChat,
		Name:       name,
		ChatData: &models.ChatData{
			ChatOptions: models.ChatOptions{AgentID: "director", MaterialsIDs: []string{"m1"}},
			MessageGroups: []*models.MessageGroup{{
				BaseObject: models.BaseObject{ID: "g1"},
				ActorID:    models.ActorID{Type: "user", ID: "user"},
				Role:       "user",
				Messages: []*models.Message{{
					BaseObject: models.BaseObject{ID: "m1"},
					Content:    "hello",
				}},
			}},
		},
	}
	a.Normalize()
	return a
}

func readVersion(t *testing.T, path string) string {
	t.Helper()
	rec, err := readTOML(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return rec.Version
}

func mtimeOf(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat %s: %v", path, err)
	}
	return info.ModTime()
}

func TestMaterialVersioningLifecycle(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	foo := newMaterial("foo", "Foo", "first")
	if err := s.CreateAsset(foo); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	path := paths.DocumentPath(models.LocationProject, models.AssetMaterial, "foo")
	if v := readVersion(t, path); v != "0.0.1" {
		t.Fatalf("Expected version 0.0.1 after create, got %q", v)
	}

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	foo.Content = "second"
	if err := s.UpdateAsset("foo", foo, ""); err != nil {
		t.Fatalf("UpdateAsset failed: %v", err)
	}
	if v := readVersion(t, path); v != "0.0.2" {
		t.Errorf("Expected version 0.0.2 after content change, got %q", v)
	}
	if foo.Version != "0.0.2" {
		t.Errorf("Expected in-memory version 0.0.2, got %q", foo.Version)
	}
	if mtimeOf(t, path).Equal(past) {
		t.Error("Expected mtime to change after content update")
	}

	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	foo.Name = "Foo renamed"
	if err := s.UpdateAsset("foo", foo, ""); err != nil {
		t.Fatalf("UpdateAsset (name only) failed: %v", err)
	}
	if v := readVersion(t, path); v != "0.0.2" {
		t.Errorf("Expected version to stay 0.0.2 after name-only change, got %q", v)
	}
	if got := mtimeOf(t, path); !got.Equal(past) {
		t.Errorf("Expected mtime %v to be preserved, got %v", past, got)
	}
	rec, _ := readTOML(path)
	if rec.Name != "Foo renamed" {
		t.Errorf("Expected name to be written, got %q", rec.Name)
	}
	if rec.ContentStaticText != "\nsecond\n" {
		t.Errorf("Expected content wrapped in newlines, got %q", rec.ContentStaticText)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	if err := s.CreateAsset(newMaterial("dup", "Dup", "x")); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	err := s.CreateAsset(newMaterial("dup", "Dup", "y"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestReservedIDsFailBeforeWrite(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	agent := &models.Asset{BaseObject: models.BaseObject{ID: "user"}, Type: models.AssetAgent, Name: "User"}
	agent.Normalize()

	tests := []struct {
		name  string
		asset *models.Asset
		want  error
	}{
		{"new material", newMaterial("new", "New", "x"), ErrReservedID},
		{"new chat", newChat("new", "New"), ErrReservedID},
		{"user agent", agent, ErrUserIsInvalidAgentID},
		{"path traversal", newMaterial("../escape", "Escape", "x"), ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateAsset(tt.asset); !errors.Is(err, tt.want) {
				t.Errorf("CreateAsset: expected %v, got %v", tt.want, err)
			}
			if err := s.UpdateAsset(tt.asset.ID, tt.asset, ""); !errors.Is(err, tt.want) {
				t.Errorf("UpdateAsset: expected %v, got %v", tt.want, err)
			}
		})
	}

	for _, at := range models.AssetTypes {
		entries, err := os.ReadDir(paths.Dir(models.LocationProject, at))
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("Expected no files in %s, got %d", at.Dir(), len(entries))
		}
	}
}

func TestScopedChatMerge(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	chat := newChat("c1", "First title")
	if err := s.CreateAsset(chat); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	path := paths.DocumentPath(models.LocationProject, models.AssetChat, "c1")
	before, err := readChatRecord(path)
	if err != nil {
		t.Fatalf("readChatRecord failed: %v", err)
	}

	// A client with a stale view: no message groups, different options.
	stale := newChat("c1", "Second title")
	stale.MessageGroups = nil
	stale.ChatOptions = models.ChatOptions{AgentID: "other"}
	stale.Normalize()

	if err := s.UpdateAsset("c1", stale, "name"); err != nil {
		t.Fatalf("UpdateAsset(scope=name) failed: %v", err)
	}
	after, err := readChatRecord(path)
	if err != nil {
		t.Fatalf("readChatRecord failed: %v", err)
	}
	for _, key := range []string{"message_groups", "chat_options"} {
		if string(after[key]) != string(before[key]) {
			t.Errorf("Expected %s to be byte-identical\nbefore: %s\nafter:  %s", key, before[key], after[key])
		}
	}
	if string(after["name"]) != `"Second title"` {
		t.Errorf("Expected name to be updated, got %s", after["name"])
	}

	// And the other way round.
	stale.Name = "Ignored title"
	if err := s.UpdateAsset("c1", stale, "message_groups"); err != nil {
		t.Fatalf("UpdateAsset(scope=message_groups) failed: %v", err)
	}
	final, _ := readChatRecord(path)
	if string(final["name"]) != `"Second title"` {
		t.Errorf("Expected name untouched, got %s", final["name"])
	}
	if string(final["chat_options"]) != string(before["chat_options"]) {
		t.Errorf("Expected chat_options untouched, got %s", final["chat_options"])
	}
	if string(final["message_groups"]) != "[]" {
		t.Errorf("Expected message_groups replaced, got %s", final["message_groups"])
	}
	for _, key := range chatExcluded {
		if _, ok := final[key]; ok {
			t.Errorf("Expected %q not to be persisted", key)
		}
	}

	if err := s.UpdateAsset("c1", stale, "bogus"); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("Expected ErrInvalidScope, got %v", err)
	}
}

func TestLoadFaultIsolation(t *testing.T) {
	s, bus, paths := newTestStorage(t)

	dir := paths.Dir(models.LocationProject, models.AssetMaterial)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	good := "name = \"Good\"\nversion = \"0.0.3\"\nusage = \"\"\nusage_examples = []\nenabled_by_default = true\ncontent_type = \"static_text\"\ncontent_static_text = \"\"\"\nbody\n\"\"\"\n"
	if err := os.WriteFile(filepath.Join(dir, "good.toml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.toml"), []byte("name = = broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	chats := paths.Dir(models.LocationProject, models.AssetChat)
	if err := os.MkdirAll(chats, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chats, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var failed []string
	bus.Subscribe(events.TypeAssetLoadError, "test", func(e events.Event) {
		failed = append(failed, e.(events.AssetLoadError).AssetID)
	})

	setup(t, s, paths)

	a := s.Get("good", "")
	if a == nil {
		t.Fatal("Expected good material to load despite a broken sibling")
	}
	if a.Version != "0.0.3" || a.Content != "body" {
		t.Errorf("Unexpected material: version=%q content=%q", a.Version, a.Content)
	}
	if len(failed) != 2 {
		t.Fatalf("Expected 2 load errors, got %v", failed)
	}
	if s.Get("bad", "") != nil {
		t.Error("Expected bad material not to be tracked")
	}
	if st := s.State(models.AssetMaterial); st != StateLoaded {
		t.Errorf("Expected state loaded, got %s", st)
	}
}

func TestProjectOverridesCore(t *testing.T) {
	s, _, paths := newTestStorage(t)

	for _, loc := range []models.AssetLocation{models.LocationCore, models.LocationProject} {
		dir := paths.Dir(loc, models.AssetAgent)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		doc := "name = \"" + string(loc) + "\"\nversion = \"0.0.1\"\nusage = \"\"\nusage_examples = []\nenabled_by_default = true\nsystem = \"be nice\"\n"
		if err := os.WriteFile(filepath.Join(dir, "writer.toml"), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	setup(t, s, paths)

	variants := s.Variants("writer")
	if len(variants) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(variants))
	}
	if variants[0].DefinedIn != models.LocationProject {
		t.Errorf("Expected project variant first, got %s", variants[0].DefinedIn)
	}
	if got := s.Get("writer", models.LocationCore); got == nil || got.Name != string(models.LocationCore) {
		t.Errorf("Expected core variant by location filter, got %+v", got)
	}
	if variants[0].System != "be nice" {
		t.Errorf("Expected agent system prompt, got %q", variants[0].System)
	}
}

func TestDeleteMovesToTrash(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	if err := s.CreateAsset(newMaterial("bar", "Bar", "x")); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if err := s.DeleteAsset("bar"); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	if fileExists(paths.DocumentPath(models.LocationProject, models.AssetMaterial, "bar")) {
		t.Error("Expected document to be gone from the project directory")
	}
	if !fileExists(filepath.Join(paths.TrashDir(models.AssetMaterial), "bar.toml")) {
		t.Error("Expected document in trash")
	}
	if s.Get("bar", "") != nil {
		t.Error("Expected asset to be removed from memory")
	}

	// Same id trashed twice keeps both copies.
	if err := s.CreateAsset(newMaterial("bar", "Bar", "y")); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if err := s.DeleteAsset("bar"); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	entries, _ := os.ReadDir(paths.TrashDir(models.AssetMaterial))
	if len(entries) != 2 {
		t.Errorf("Expected 2 trashed files, got %d", len(entries))
	}
}

func TestDeleteMissingEmitsEvent(t *testing.T) {
	s, bus, paths := newTestStorage(t)
	setup(t, s, paths)

	var missing string
	bus.Subscribe(events.TypeAssetNotFound, "test", func(e events.Event) {
		missing = e.(events.AssetNotFound).AssetID
	})

	if err := s.DeleteAsset("bar"); err != nil {
		t.Fatalf("Expected no error for missing asset, got %v", err)
	}
	if missing != "bar" {
		t.Errorf("Expected AssetNotFound for bar, got %q", missing)
	}
}

func TestRenameMovesFilesAndImages(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	agent := &models.Asset{BaseObject: models.BaseObject{ID: "old"}, Type: models.AssetAgent, Name: "Old"}
	agent.Normalize()
	if err := s.CreateAsset(agent); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	dir := paths.Dir(models.LocationProject, models.AssetAgent)
	if err := os.WriteFile(filepath.Join(dir, "old.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	agent.ID = "fresh"
	if err := s.UpdateAsset("old", agent, ""); err != nil {
		t.Fatalf("UpdateAsset (rename) failed: %v", err)
	}
	if fileExists(filepath.Join(dir, "old.toml")) || !fileExists(filepath.Join(dir, "fresh.toml")) {
		t.Error("Expected document to move from old.toml to fresh.toml")
	}
	if fileExists(filepath.Join(dir, "old.png")) || !fileExists(filepath.Join(dir, "fresh.png")) {
		t.Error("Expected image to move with the asset")
	}
	if s.Get("old", "") != nil || s.Get("fresh", "") != agent {
		t.Error("Expected in-memory entry to move to the new id")
	}
}

func TestRenameConflictFailsLoudly(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	for _, id := range []string{"a", "b"} {
		if err := s.CreateAsset(newMaterial(id, strings.ToUpper(id), id)); err != nil {
			t.Fatalf("CreateAsset failed: %v", err)
		}
	}
	b := s.Get("b", "")
	before, _ := os.ReadFile(paths.DocumentPath(models.LocationProject, models.AssetMaterial, "b"))

	renamed := newMaterial("b", "A as B", "a")
	if err := s.UpdateAsset("a", renamed, ""); !errors.Is(err, ErrRenameConflict) {
		t.Fatalf("Expected ErrRenameConflict, got %v", err)
	}
	after, _ := os.ReadFile(paths.DocumentPath(models.LocationProject, models.AssetMaterial, "b"))
	if string(before) != string(after) {
		t.Error("Expected existing file to be left untouched")
	}
	if s.Get("b", "") != b {
		t.Error("Expected in-memory asset to be left untouched")
	}
}

func TestReloadKeepsPinnedInstances(t *testing.T) {
	s, bus, paths := newTestStorage(t)
	setup(t, s, paths)

	chat := newChat("c1", "Live")
	if err := s.CreateAsset(chat); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	chat.Name = "Unflushed edit"
	chat.SetLockOwner("session-1")

	updated := 0
	bus.Subscribe(events.TypeAssetsUpdated, "test", func(e events.Event) {
		updated = e.(events.AssetsUpdated).Count
	})

	s.SetPinned(func(id string) bool { return id == "c1" })
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := s.Get("c1", ""); got != chat {
		t.Error("Expected pinned instance to survive reload")
	}
	if updated != 1 {
		t.Errorf("Expected AssetsUpdated with count 1, got %d", updated)
	}

	s.SetPinned(nil)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got := s.Get("c1", "")
	if got == chat || got.Name != "Live" || got.LockOwner() != "" {
		t.Errorf("Expected a fresh instance from disk, got name=%q lock=%q", got.Name, got.LockOwner())
	}
}

func TestReloadKeepsWritesMadeDuringScan(t *testing.T) {
	s, _, paths := newTestStorage(t)
	setup(t, s, paths)

	if err := s.CreateAsset(newMaterial("m1", "Notes", "first")); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if err := s.CreateAsset(newMaterial("m2", "Scratch", "gone soon")); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	live := s.Get("m1", "")

	// The guard runs after the scan, so these writes land between parse and swap.
	s.SetSwapGuard(func(swap func()) {
		live.Content = "second"
		if err := s.UpdateAsset("m1", live, ""); err != nil {
			t.Errorf("UpdateAsset failed: %v", err)
		}
		if err := s.DeleteAsset("m2"); err != nil {
			t.Errorf("DeleteAsset failed: %v", err)
		}
		swap()
	})
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := s.Get("m1", ""); got != live || got.Content != "second" {
		t.Errorf("Expected the instance written during the scan to survive, got %+v", got)
	}
	if s.Get("m2", "") != nil {
		t.Error("Expected an asset deleted during the scan to stay deleted")
	}

	s.SetSwapGuard(nil)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got := s.Get("m1", "")
	if got == live || got.Content != "second" {
		t.Errorf("Expected a fresh instance with the written content, got content=%q", got.Content)
	}
}

func TestChatRoundTripDropsRuntimeFields(t *testing.T) {
	chat := newChat("c9", "Title")
	chat.SetLockOwner("s1")
	chat.MessageGroups[0].SetLockOwner("s2")
	chat.Enabled = true

	rec, err := chatRecord(chat)
	if err != nil {
		t.Fatalf("chatRecord failed: %v", err)
	}
	data, _ := json.Marshal(rec)
	loaded, err := decodeChat(data, "c9")
	if err != nil {
		t.Fatalf("decodeChat failed: %v", err)
	}
	if loaded.LockOwner() != "" || loaded.MessageGroups[0].LockOwner() != "" {
		t.Error("Expected lock tags to be cleared on load")
	}
	if loaded.ID != "c9" || loaded.MessageGroups[0].Messages[0].Content != "hello" {
		t.Errorf("Unexpected chat after round trip: %+v", loaded)
	}
}

func TestBumpVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0.0.1", "0.0.2"},
		{"1.2.9", "1.2.10"},
		{"3", "4"},
		{"1.0.beta", "1.0.beta.1"},
		{"0.0-beta", "0.0-beta.1"},
		{"1.2.3rc", "1.2.3rc.1"},
		{"1.0.-1", "1.0.-1.1"},
	}
	for _, tt := range tests {
		if got := bumpVersion(tt.in); got != tt.want {
			t.Errorf("bumpVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetupWithoutProjectDirFails(t *testing.T) {
	s := NewFileStorage(Options{DisableWatcher: true})
	ok, err := s.Setup(context.Background(), Paths{})
	if ok || !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected failed setup with ErrNotConfigured, got ok=%v err=%v", ok, err)
	}
	if err := s.CreateAsset(newMaterial("x", "X", "x")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
