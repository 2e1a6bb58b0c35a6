package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"aiconsole/internal/events"
	"aiconsole/internal/models"
	"aiconsole/internal/services"
	"aiconsole/internal/storage"
)

type testServer struct {
	app    *fiber.App
	assets *services.Assets
	core   *services.Core
}

func setupTestApp(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	paths := storage.Paths{
		ProjectDir: filepath.Join(root, "project"),
		CoreDir:    filepath.Join(root, "core"),
	}

	bus := events.NewBus()
	store := storage.NewFileStorage(storage.Options{Bus: bus, DisableWatcher: true, ParseWorkers: 2})
	notifications := services.NewNotifications(time.Second)
	connManager := services.NewConnectionManager()
	core := services.NewCore(store, connManager, services.CoreOptions{LockTimeout: time.Second, Notifications: notifications})
	settings := services.NewSettingsService(bus, notifications)
	assets := services.NewAssets(core, store, settings, notifications, bus, connManager, nil)
	if ok, err := assets.Configure(context.Background(), paths); !ok || err != nil {
		t.Fatalf("Configure failed: ok=%v err=%v", ok, err)
	}
	t.Cleanup(assets.CleanUp)

	app := fiber.New()
	app.Get("/health", NewHealthHandler(connManager, core, store).Handle)
	NewAssetHandler(assets, core).Register(app.Group("/api"))

	return &testServer{app: app, assets: assets, core: core}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestHealthHandler(t *testing.T) {
	s := setupTestApp(t)

	status, body := s.do(t, "GET", "/health", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", result["status"])
	}
	if _, ok := result["timestamp"]; !ok {
		t.Error("Expected timestamp in response")
	}
}

func TestAssetHandler_CreateDerivesIDFromName(t *testing.T) {
	s := setupTestApp(t)

	status, body := s.do(t, "POST", "/api/assets/materials", map[string]any{
		"name":               "Python Style Guide",
		"content_type":       "static_text",
		"content":            "Use four spaces.",
		"usage":              "When writing python",
		"enabled_by_default": true,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}

	var created models.Asset
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if created.ID != "python-style-guide" {
		t.Errorf("Expected id python-style-guide, got %q", created.ID)
	}
	if created.Version != models.DefaultVersion {
		t.Errorf("Expected version %s, got %q", models.DefaultVersion, created.Version)
	}

	status, _ = s.do(t, "POST", "/api/assets/materials", map[string]any{"name": "Python Style Guide"})
	if status != fiber.StatusConflict {
		t.Errorf("Expected status 409 for a duplicate, got %d", status)
	}
}

func TestAssetHandler_ReservedIDs(t *testing.T) {
	s := setupTestApp(t)

	status, _ := s.do(t, "POST", "/api/assets/agents", map[string]any{"id": "user", "name": "User"})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for agent id 'user', got %d", status)
	}
	status, _ = s.do(t, "POST", "/api/assets/materials", map[string]any{"id": "new", "name": "New"})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for id 'new', got %d", status)
	}
}

func TestAssetHandler_ListAndGet(t *testing.T) {
	s := setupTestApp(t)
	s.do(t, "POST", "/api/assets/agents", map[string]any{"id": "coder", "name": "Coder", "system": "Write code"})
	s.do(t, "POST", "/api/assets/materials", map[string]any{"id": "docs", "name": "Docs"})

	status, body := s.do(t, "GET", "/api/assets?type=agent", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var list struct {
		Assets []models.Asset `json:"assets"`
		Total  int            `json:"total"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if list.Total != 1 || list.Assets[0].ID != "coder" {
		t.Errorf("Expected only coder, got %+v", list.Assets)
	}

	if status, _ := s.do(t, "GET", "/api/assets?type=widgets", nil); status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for an unknown type, got %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/assets/agents/coder", nil); status != fiber.StatusOK {
		t.Errorf("Expected status 200 for coder, got %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/assets/materials/coder", nil); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for a type mismatch, got %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/assets/agents/ghost", nil); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for a missing asset, got %d", status)
	}
}

func TestAssetHandler_UpdateBumpsVersion(t *testing.T) {
	s := setupTestApp(t)
	s.do(t, "POST", "/api/assets/materials", map[string]any{"id": "foo", "name": "Foo", "content": "one"})

	status, body := s.do(t, "PATCH", "/api/assets/materials/foo", map[string]any{"name": "Foo", "content": "two"})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var updated models.Asset
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if updated.Version != "0.0.2" {
		t.Errorf("Expected version 0.0.2, got %q", updated.Version)
	}

	if status, _ := s.do(t, "PATCH", "/api/assets/materials/ghost", map[string]any{"name": "Ghost"}); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 updating a missing asset, got %d", status)
	}
}

func TestAssetHandler_LockedAssetIsRefused(t *testing.T) {
	s := setupTestApp(t)
	s.do(t, "POST", "/api/assets/materials", map[string]any{"id": "foo", "name": "Foo"})

	if err := s.core.Session("req-1", nil).AcquireWriteLock(context.Background(), models.AssetRef("foo")); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if status, _ := s.do(t, "PATCH", "/api/assets/materials/foo", map[string]any{"name": "Bar"}); status != fiber.StatusLocked {
		t.Errorf("Expected status 423 while locked, got %d", status)
	}
	if status, _ := s.do(t, "DELETE", "/api/assets/materials/foo", nil); status != fiber.StatusLocked {
		t.Errorf("Expected status 423 deleting while locked, got %d", status)
	}

	status, body := s.do(t, "GET", "/api/locks", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var locks struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &locks); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if locks.Total != 1 {
		t.Errorf("Expected 1 lock, got %d", locks.Total)
	}
}

func TestAssetHandler_DeleteAndEnable(t *testing.T) {
	s := setupTestApp(t)
	s.do(t, "POST", "/api/assets/agents", map[string]any{"id": "coder", "name": "Coder"})

	status, _ := s.do(t, "POST", "/api/assets/agents/coder/enabled", map[string]any{"enabled": false})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if s.assets.IsAssetEnabled("coder") {
		t.Error("Expected coder disabled")
	}
	if status, _ := s.do(t, "POST", "/api/assets/agents/coder/enabled", map[string]any{}); status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 without enabled, got %d", status)
	}

	if status, _ := s.do(t, "DELETE", "/api/assets/agents/coder", nil); status != fiber.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}
	// Deleting something that does not exist is reported, not failed.
	if status, _ := s.do(t, "DELETE", "/api/assets/agents/coder", nil); status != fiber.StatusNoContent {
		t.Errorf("Expected status 204 for a missing asset, got %d", status)
	}
}

func TestAssetHandler_SetAvatar(t *testing.T) {
	s := setupTestApp(t)
	s.do(t, "POST", "/api/assets/agents", map[string]any{"id": "coder", "name": "Coder"})
	s.do(t, "POST", "/api/assets/materials", map[string]any{"id": "docs", "name": "Docs"})

	req := httptest.NewRequest("POST", "/api/assets/agents/coder/avatar", bytes.NewReader([]byte("\xff\xd8\xff")))
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/api/assets/materials/docs/avatar", bytes.NewReader([]byte("\xff\xd8\xff")))
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err = s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for a material avatar, got %d", resp.StatusCode)
	}
}

func TestAssetHandler_ImportAndExportMaterial(t *testing.T) {
	s := setupTestApp(t)

	md := "---\nname: Coding Standards\nusage: When writing Go\n---\n\nRun gofmt.\n"
	req := httptest.NewRequest("POST", "/api/import/materials", bytes.NewReader([]byte(md)))
	req.Header.Set("Content-Type", "text/markdown")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	asset := s.assets.GetAsset("coding-standards", models.LocationProject, nil)
	if asset == nil {
		t.Fatal("Expected imported material under its slug id")
	}
	if asset.Content != "Run gofmt." {
		t.Errorf("Expected body as content, got %q", asset.Content)
	}

	status, body := s.do(t, "GET", "/api/export/materials/coding-standards", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if !bytes.Contains(body, []byte("name: Coding Standards")) || !bytes.Contains(body, []byte("Run gofmt.")) {
		t.Errorf("Expected frontmatter and content in export, got %s", body)
	}

	if status, _ := s.do(t, "GET", "/api/export/materials/missing", nil); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status)
	}

	req = httptest.NewRequest("POST", "/api/import/materials", bytes.NewReader([]byte(md)))
	resp, _ = s.app.Test(req)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("Expected status 409 for a duplicate import, got %d", resp.StatusCode)
	}
}
