package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"aiconsole/internal/models"
)

// Origin is the connection a session acts for. It is told when its locks are
// taken and released.
type Origin interface {
	ID() string
	LockAcquired(ref models.ObjectRef, requestID string)
	LockReleased(ref models.ObjectRef, requestID string)
}

type lockEntry struct {
	ref        models.ObjectRef
	owner      string
	origin     Origin
	acquiredAt time.Time
	released   chan struct{} // closed on release
}

// deferredOp is a mutation submitted while another session held a lock on
// the target or one of its ancestors.
type deferredOp struct {
	mutation   models.Mutation
	sessionID  string
	origin     Origin
	fromServer bool
}

// LockInfo describes an outstanding lock.
type LockInfo struct {
	Ref        models.ObjectRef `json:"ref"`
	Owner      string           `json:"owner"`
	AcquiredAt time.Time        `json:"acquired_at"`
	Queued     int              `json:"queued"`
}

// LockTable maps reference keys to outstanding locks and their deferred
// operation queues. State changes happen inside the critical section; the
// mutex only makes read-only snapshots safe from other goroutines.
type LockTable struct {
	mu      sync.RWMutex
	entries map[string]*lockEntry
	queues  map[string][]deferredOp
}

func NewLockTable() *LockTable {
	return &LockTable{
		entries: make(map[string]*lockEntry),
		queues:  make(map[string][]deferredOp),
	}
}

func (t *LockTable) get(key string) *lockEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[key]
}

func (t *LockTable) hold(entry *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.ref.Key()] = entry
}

func (t *LockTable) drop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// blocking returns the nearest lock on ref or an ancestor of ref that is held
// by a session other than sessionID.
func (t *LockTable) blocking(ref models.AnyRef, sessionID string) *lockEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := models.AncestorKeys(ref)
	for i := len(keys) - 1; i >= 0; i-- {
		if entry, ok := t.entries[keys[i]]; ok && entry.owner != sessionID {
			return entry
		}
	}
	return nil
}

func (t *LockTable) enqueue(key string, op deferredOp) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[key] = append(t.queues[key], op)
	return len(t.queues[key])
}

// takeQueue removes and returns the pending operations for key in FIFO order.
func (t *LockTable) takeQueue(key string) []deferredOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := t.queues[key]
	delete(t.queues, key)
	return ops
}

// HeldUnder reports whether any lock is held on the asset or anything inside it.
func (t *LockTable) HeldUnder(assetID string) bool {
	if assetID == "" {
		return false
	}
	prefix := models.AssetRef(assetID).Key()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key := range t.entries {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}
	return false
}

// foreignUnder returns a lock on the asset or inside it held by a session
// other than sessionID, picking the lowest key when there are several.
func (t *LockTable) foreignUnder(assetID, sessionID string) *lockEntry {
	prefix := models.AssetRef(assetID).Key()
	t.mu.RLock()
	defer t.mu.RUnlock()
	var found *lockEntry
	for key, entry := range t.entries {
		if entry.owner == sessionID || (key != prefix && !strings.HasPrefix(key, prefix+"/")) {
			continue
		}
		if found == nil || key < found.ref.Key() {
			found = entry
		}
	}
	return found
}

// IsLocked reports whether ref itself is locked.
func (t *LockTable) IsLocked(ref models.ObjectRef) bool {
	return t.get(ref.Key()) != nil
}

// Snapshot lists outstanding locks ordered by acquisition time.
func (t *LockTable) Snapshot() []LockInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]LockInfo, 0, len(t.entries))
	for key, entry := range t.entries {
		out = append(out, LockInfo{
			Ref:        entry.ref,
			Owner:      entry.owner,
			AcquiredAt: entry.acquiredAt,
			Queued:     len(t.queues[key]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}

// Len returns the number of outstanding locks.
func (t *LockTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
