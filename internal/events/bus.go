package events

import (
	"log"
	"sort"
	"sync"
)

// Event types emitted inside the process.
const (
	TypeAssetsUpdated   = "assets_updated"
	TypeAssetLoadError  = "asset_load_error"
	TypeAssetNotFound   = "asset_not_found"
	TypeSettingsUpdated = "settings_updated"
)

// Event is anything published on the bus.
type Event interface {
	EventType() string
}

// AssetsUpdated fires after a reload replaced the in-memory collections.
type AssetsUpdated struct {
	AssetType string
	Count     int
}

// AssetLoadError fires once per asset file that failed to parse during a reload.
type AssetLoadError struct {
	AssetType string
	AssetID   string
	Path      string
	Err       error
}

// AssetNotFound fires when a delete targets an id that is not tracked.
type AssetNotFound struct {
	AssetID string
}

// SettingsUpdated fires after settings.toml was written or reloaded.
type SettingsUpdated struct{}

func (AssetsUpdated) EventType() string   { return TypeAssetsUpdated }
func (AssetLoadError) EventType() string  { return TypeAssetLoadError }
func (AssetNotFound) EventType() string   { return TypeAssetNotFound }
func (SettingsUpdated) EventType() string { return TypeSettingsUpdated }

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

// Bus is an in-memory pub/sub keyed by event type. Handlers run synchronously
// in subscription-id order, so emitters see every side effect before Emit returns.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Handler // eventType → subID → handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[string]Handler)}
}

// Subscribe registers handler for eventType under subID, replacing any handler
// previously registered with the same pair.
func (b *Bus) Subscribe(eventType, subID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[string]Handler)
	}
	b.subscribers[eventType][subID] = handler
	log.Printf("[EVENT-BUS] Subscribe: type=%s sub=%s (total=%d)", eventType, subID, len(b.subscribers[eventType]))
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(eventType, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[eventType]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(b.subscribers, eventType)
		}
	}
}

// Emit delivers event to every handler subscribed to its type. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.EventType()]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	b.mu.RUnlock()

	for i, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️ [EVENT-BUS] Handler %s panicked on %s: %v", ids[i], event.EventType(), r)
				}
			}()
			handler(event)
		}()
	}
}

// SubscriberCount returns the number of handlers registered for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}
