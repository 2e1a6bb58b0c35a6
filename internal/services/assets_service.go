package services

import (
	"context"
	"fmt"
	"log"
	"sort"

	"aiconsole/internal/events"
	"aiconsole/internal/models"
	"aiconsole/internal/storage"
)

const assetsSubscriberID = "assets_facade"

// Assets is the entry point the HTTP and WebSocket layers use for whole-asset
// operations. Field-level edits go through DataContext.Mutate instead.
type Assets struct {
	core          *Core
	storage       *storage.FileStorage
	settings      *SettingsService
	notifications *Notifications
	bus           *events.Bus
	connManager   *ConnectionManager
	metrics       *Metrics
}

// NewAssets wires the facade. connManager and metrics may be nil.
func NewAssets(core *Core, store *storage.FileStorage, settings *SettingsService, notifications *Notifications, bus *events.Bus, connManager *ConnectionManager, metrics *Metrics) *Assets {
	return &Assets{
		core:          core,
		storage:       store,
		settings:      settings,
		notifications: notifications,
		bus:           bus,
		connManager:   connManager,
		metrics:       metrics,
	}
}

// Configure loads project settings, subscribes to storage events and sets up
// storage. Locked assets are pinned so reloads keep their live instances, and
// reload swaps run inside the critical section.
func (a *Assets) Configure(ctx context.Context, paths storage.Paths) (bool, error) {
	if err := a.settings.Load(paths.ProjectDir); err != nil {
		log.Printf("⚠️ [ASSETS] Settings not loaded, using defaults: %v", err)
	}

	a.bus.Subscribe(events.TypeAssetsUpdated, assetsSubscriberID, a.onAssetsUpdated)
	a.bus.Subscribe(events.TypeSettingsUpdated, assetsSubscriberID, a.onSettingsUpdated)
	a.bus.Subscribe(events.TypeAssetLoadError, assetsSubscriberID, a.onLoadError)
	a.bus.Subscribe(events.TypeAssetNotFound, assetsSubscriberID, a.onAssetNotFound)

	a.storage.SetPinned(a.core.Locks().HeldUnder)
	a.storage.SetSwapGuard(a.core.Exclusive)

	ok, err := a.storage.Setup(ctx, paths)
	if ok {
		a.metrics.RecordReload(len(a.storage.Assets()))
	}
	return ok, err
}

// CleanUp stops the watcher and drops the event subscriptions.
func (a *Assets) CleanUp() {
	for _, t := range []string{events.TypeAssetsUpdated, events.TypeSettingsUpdated, events.TypeAssetLoadError, events.TypeAssetNotFound} {
		a.bus.Unsubscribe(t, assetsSubscriberID)
	}
	a.storage.Destroy()
}

// Reload rescans the asset directories.
func (a *Assets) Reload(ctx context.Context) error {
	return a.storage.Reload(ctx)
}

// IsAssetEnabled returns the settings flag for id, falling back to the
// asset's enabled_by_default.
func (a *Assets) IsAssetEnabled(id string) bool {
	if enabled, ok := a.settings.IsEnabled(id); ok {
		return enabled
	}
	if asset := a.storage.Get(id, ""); asset != nil {
		return asset.EnabledByDefault
	}
	return false
}

// view returns a deep copy of asset with the enabled overlay applied. Callers
// hold the critical section.
func (a *Assets) view(asset *models.Asset, overridden bool) *models.Asset {
	cp := asset.Clone()
	cp.Enabled = a.IsAssetEnabled(asset.ID)
	cp.Override = overridden
	return cp
}

// UnifiedAssets returns the effective variant of every id, sorted by id.
func (a *Assets) UnifiedAssets() []*models.Asset {
	var out []*models.Asset
	a.core.Exclusive(func() {
		all := a.storage.Assets()
		out = make([]*models.Asset, 0, len(all))
		for _, variants := range all {
			if len(variants) == 0 {
				continue
			}
			out = append(out, a.view(variants[0], len(variants) > 1))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FilterAssets returns the effective variants of type t. An empty location
// keeps all; otherwise only variants defined at location are returned.
func (a *Assets) FilterAssets(t models.AssetType, location models.AssetLocation) []*models.Asset {
	var out []*models.Asset
	a.core.Exclusive(func() {
		for _, variants := range a.storage.Assets() {
			for i, v := range variants {
				if t != "" && v.Type != t {
					break
				}
				if location != "" && v.DefinedIn != location {
					continue
				}
				out = append(out, a.view(v, i == 0 && len(variants) > 1))
				break
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAsset returns a copy of the first variant of id at location (any
// location when empty). When enabled is set the asset must also match that flag.
func (a *Assets) GetAsset(id string, location models.AssetLocation, enabled *bool) *models.Asset {
	var found *models.Asset
	a.core.Exclusive(func() {
		variants := a.storage.Variants(id)
		for i, v := range variants {
			if location != "" && v.DefinedIn != location {
				continue
			}
			found = a.view(v, i == 0 && len(variants) > 1)
			return
		}
	})
	if found == nil || (enabled != nil && found.Enabled != *enabled) {
		return nil
	}
	return found
}

// CreateAsset persists a new project asset.
func (a *Assets) CreateAsset(ctx context.Context, asset *models.Asset) error {
	asset.Normalize()
	return a.core.withSection(ctx, func(after *[]func()) error {
		a.notifications.SuppressNextNotification()
		if err := a.core.store.CreateAsset(asset); err != nil {
			return err
		}
		log.Printf("📝 [ASSETS] Created %s %s", asset.Type, asset.ID)
		return nil
	})
}

// UpdateAsset replaces the project variant of oldID with asset. Assets with a
// lock held anywhere inside them are refused with ErrAssetLocked.
func (a *Assets) UpdateAsset(ctx context.Context, oldID string, asset *models.Asset, scope string) error {
	asset.Normalize()
	return a.core.withSection(ctx, func(after *[]func()) error {
		if a.core.locks.HeldUnder(oldID) {
			return fmt.Errorf("%w: %s", ErrAssetLocked, oldID)
		}
		if existing := a.storage.Get(oldID, ""); existing != nil && existing.Type != asset.Type {
			return fmt.Errorf("%w: %s is a %s, not a %s", models.ErrWrongObjectType, oldID, existing.Type, asset.Type)
		}
		a.notifications.SuppressNextNotification()
		if err := a.core.store.UpdateAsset(oldID, asset, scope); err != nil {
			return err
		}
		if oldID != asset.ID {
			*after = append(*after, func() {
				if err := a.settings.Rename(oldID, asset.ID); err != nil {
					log.Printf("⚠️ [ASSETS] Failed to move enabled flag %s -> %s: %v", oldID, asset.ID, err)
				}
			})
		}
		return nil
	})
}

// DeleteAsset moves the project files of id to trash. Deleting an id that is
// not tracked is reported through the bus, not as an error.
func (a *Assets) DeleteAsset(ctx context.Context, id string) error {
	return a.core.withSection(ctx, func(after *[]func()) error {
		if a.core.locks.HeldUnder(id) {
			return fmt.Errorf("%w: %s", ErrAssetLocked, id)
		}
		a.notifications.SuppressNextNotification()
		return a.core.store.DeleteAsset(id)
	})
}

// SetEnabled stores the enabled flag for id.
func (a *Assets) SetEnabled(id string, enabled bool) error {
	a.notifications.SuppressNextNotification()
	return a.settings.SetEnabled(id, enabled)
}

// RenameAsset moves the enabled flag from oldID to newID. Files are renamed
// through UpdateAsset.
func (a *Assets) RenameAsset(oldID, newID string) error {
	return a.settings.Rename(oldID, newID)
}

// SetAvatar writes the image of an agent or user profile.
func (a *Assets) SetAvatar(id string, data []byte) error {
	asset := a.storage.Get(id, "")
	if asset == nil {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if asset.Type != models.AssetAgent && asset.Type != models.AssetUser {
		return fmt.Errorf("%w: %s assets have no avatar", storage.ErrUnknownAssetType, asset.Type)
	}
	a.notifications.SuppressNextNotification()
	return a.storage.WriteAvatar(asset.Type, id, data)
}

func (a *Assets) broadcastUpdated(count int) {
	if a.connManager == nil {
		return
	}
	a.connManager.DeliverToAll(models.ServerMessage{
		Type:    "assets_updated",
		Initial: a.notifications.Suppressed(),
		Count:   count,
	})
}

func (a *Assets) onAssetsUpdated(e events.Event) {
	updated, ok := e.(events.AssetsUpdated)
	if !ok {
		return
	}
	a.metrics.RecordReload(updated.Count)
	a.broadcastUpdated(updated.Count)
}

func (a *Assets) onSettingsUpdated(events.Event) {
	a.broadcastUpdated(len(a.storage.Assets()))
}

func (a *Assets) onLoadError(e events.Event) {
	loadErr, ok := e.(events.AssetLoadError)
	if !ok {
		return
	}
	a.metrics.RecordLoadError(loadErr.AssetType)
	if a.connManager == nil {
		return
	}
	a.connManager.DeliverToAll(models.ServerMessage{
		Type:         "error",
		ErrorCode:    "asset_load_error",
		ErrorMessage: fmt.Sprintf("failed to load %s %q: %v", loadErr.AssetType, loadErr.AssetID, loadErr.Err),
	})
}

func (a *Assets) onAssetNotFound(e events.Event) {
	if notFound, ok := e.(events.AssetNotFound); ok {
		log.Printf("⚠️ [ASSETS] Asset %s does not exist", notFound.AssetID)
	}
}
