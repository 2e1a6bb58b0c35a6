package services

import (
	"fmt"
	"sort"

	"aiconsole/internal/models"
)

// AssetStore is the live asset storage the resolver and the mutation engine
// work against. *storage.FileStorage implements it.
type AssetStore interface {
	Get(id string, location models.AssetLocation) *models.Asset
	Assets() map[string][]*models.Asset
	CreateAsset(asset *models.Asset) error
	UpdateAsset(oldID string, asset *models.Asset, scope string) error
	DeleteAsset(id string) error
}

// assetCollection is the "assets" collection of the synthetic root. Inserting
// and removing go straight to storage.
type assetCollection struct {
	store AssetStore
}

func (c assetCollection) Len() int { return len(c.store.Assets()) }

func (c assetCollection) Get(id string) models.Object {
	if a := c.store.Get(id, ""); a != nil {
		return a
	}
	return nil
}

// Objects returns the effective variant of every asset, ordered by id.
func (c assetCollection) Objects() []models.Object {
	all := c.store.Assets()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Object, 0, len(ids))
	for _, id := range ids {
		if len(all[id]) > 0 {
			out = append(out, all[id][0])
		}
	}
	return out
}

func (c assetCollection) Insert(obj models.Object, _ int) error {
	asset, ok := obj.(*models.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrWrongObjectType, obj.Kind())
	}
	return c.store.CreateAsset(asset)
}

// Remove deletes the asset through storage. Storage reports an unknown id on
// the bus rather than failing, so removing a missing asset still succeeds.
func (c assetCollection) Remove(id string) bool {
	return c.store.DeleteAsset(id) == nil
}

// Resolver walks references from a synthetic root over live storage. It is
// stateless; every call sees the current contents of the store.
type Resolver struct {
	store AssetStore
}

func NewResolver(store AssetStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the models.Object or models.Collection ref points at, or nil
// when any step of the walk finds nothing. Only a reference that does not
// start at the assets collection is an error.
func (r *Resolver) Resolve(ref models.AnyRef) (any, error) {
	segments := ref.Segments()
	if len(segments) == 0 || segments[0] != models.AssetsCollection {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRef, segments)
	}

	var col models.Collection = assetCollection{store: r.store}
	// Odd segments select a member by id, even ones a named sub-collection.
	for i := 1; i < len(segments); i += 2 {
		obj := col.Get(segments[i])
		if obj == nil {
			return nil, nil
		}
		if i == len(segments)-1 {
			return obj, nil
		}
		if col = models.SubCollection(obj, segments[i+1]); col == nil {
			return nil, nil
		}
	}
	return col, nil
}

// ResolveObject resolves an object reference; nil when absent.
func (r *Resolver) ResolveObject(ref models.ObjectRef) (models.Object, error) {
	v, err := r.Resolve(ref)
	if err != nil || v == nil {
		return nil, err
	}
	obj, _ := v.(models.Object)
	return obj, nil
}

// ResolveCollection resolves a collection reference; nil when absent.
func (r *Resolver) ResolveCollection(ref models.CollectionRef) (models.Collection, error) {
	v, err := r.Resolve(ref)
	if err != nil || v == nil {
		return nil, err
	}
	col, _ := v.(models.Collection)
	return col, nil
}
