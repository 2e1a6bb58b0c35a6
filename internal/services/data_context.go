package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"aiconsole/internal/logging"
	"aiconsole/internal/models"
)

// Broadcaster fans a server message out to connections interested in ref.
type Broadcaster interface {
	SendToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string)
}

// MutationOutcome tells the caller whether a mutation took effect or was queued.
type MutationOutcome string

const (
	OutcomeApplied  MutationOutcome = "applied"
	OutcomeDeferred MutationOutcome = "deferred"
)

// CoreOptions configures the shared asset core.
type CoreOptions struct {
	LockTimeout   time.Duration
	Metrics       *Metrics
	Notifications *Notifications // writes open the suppression window when set
}

// Core is the process-wide asset context: live storage, the lock table and
// the critical section every write goes through. Connection handlers get a
// session-scoped DataContext around it.
type Core struct {
	store       AssetStore
	resolver    *Resolver
	locks       *LockTable
	section     *criticalSection
	broadcaster Broadcaster
	lockTimeout time.Duration
	metrics     *Metrics
	notify      *Notifications
}

// NewCore creates the asset core. broadcaster may be nil.
func NewCore(store AssetStore, broadcaster Broadcaster, opts CoreOptions) *Core {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	return &Core{
		store:       store,
		resolver:    NewResolver(store),
		locks:       NewLockTable(),
		section:     newCriticalSection(),
		broadcaster: broadcaster,
		lockTimeout: opts.LockTimeout,
		metrics:     opts.Metrics,
		notify:      opts.Notifications,
	}
}

func (c *Core) Locks() *LockTable { return c.locks }

// SetMetrics sets the metrics sink. Call before serving traffic.
func (c *Core) SetMetrics(metrics *Metrics) {
	c.metrics = metrics
}

func (c *Core) Resolver() *Resolver { return c.resolver }

// Session returns a data context acting as sessionID on behalf of origin.
// origin may be nil for server-side work.
func (c *Core) Session(sessionID string, origin Origin) *DataContext {
	return &DataContext{core: c, sessionID: sessionID, origin: origin}
}

// withSection runs fn inside the critical section. Functions fn appends to
// after run once the section has been left.
func (c *Core) withSection(ctx context.Context, fn func(after *[]func()) error) error {
	if err := c.section.enter(ctx); err != nil {
		return err
	}
	var after []func()
	err := func() error {
		defer c.section.exit()
		return fn(&after)
	}()
	for _, f := range after {
		f()
	}
	return err
}

// Read runs fn inside the critical section, so fn never observes a mutation
// half applied. fn must not call back into the core.
func (c *Core) Read(ctx context.Context, fn func()) error {
	return c.withSection(ctx, func(*[]func()) error {
		fn()
		return nil
	})
}

// Exclusive is Read without a deadline. Storage runs its reload swap through
// it so a swap never interleaves with a mutation and its flush.
func (c *Core) Exclusive(fn func()) {
	_ = c.Read(context.Background(), fn)
}

// DataContext is the session-scoped view of the core.
type DataContext struct {
	core      *Core
	sessionID string
	origin    Origin
}

func (d *DataContext) SessionID() string { return d.sessionID }

func (d *DataContext) originID() string {
	if d.origin == nil {
		return ""
	}
	return d.origin.ID()
}

// Get resolves ref against live storage.
func (d *DataContext) Get(ref models.AnyRef) (any, error) {
	return d.core.resolver.Resolve(ref)
}

// Mutate applies m, persists the owning asset and broadcasts the change.
// When another session holds a lock on the target or an ancestor, m is queued
// and applied once that lock is released.
func (d *DataContext) Mutate(ctx context.Context, m models.Mutation, fromServer bool) (MutationOutcome, error) {
	c := d.core
	op := deferredOp{mutation: m, sessionID: d.sessionID, origin: d.origin, fromServer: fromServer}

	var outcome MutationOutcome
	err := c.withSection(ctx, func(after *[]func()) error {
		if entry := c.blockedBy(m, d.sessionID); entry != nil {
			n := c.locks.enqueue(entry.ref.Key(), op)
			outcome = OutcomeDeferred
			c.metrics.RecordMutation(string(m.Type), string(OutcomeDeferred))
			logging.WithRef(logging.WithSession(d.sessionID, d.originID()), m.Ref.Key()).
				Debug("mutation deferred", "type", m.Type, "lock", entry.ref.Key(), "queued", n)
			return nil
		}

		if err := c.apply(op); err != nil {
			return err
		}
		outcome = OutcomeApplied

		if !c.locks.IsLocked(m.Ref) {
			c.drain(m.Ref.Key())
		}
		return nil
	})
	return outcome, err
}

// AcquireWriteLock blocks until ref is free or held by this session, then tags
// the object with the session id. It fails with *LockTimeoutError after the
// configured timeout.
func (d *DataContext) AcquireWriteLock(ctx context.Context, ref models.ObjectRef) error {
	c := d.core
	key := ref.Key()
	start := time.Now()
	timer := time.NewTimer(c.lockTimeout)
	defer timer.Stop()

	for {
		var (
			wait     <-chan struct{}
			acquired bool
		)
		err := c.withSection(ctx, func(after *[]func()) error {
			entry := c.locks.get(key)
			if entry != nil && entry.owner != d.sessionID {
				wait = entry.released
				return nil
			}
			obj, err := c.resolver.ResolveObject(ref)
			if err != nil {
				return err
			}
			if obj == nil {
				return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
			}
			if entry == nil {
				c.locks.hold(&lockEntry{
					ref:        ref,
					owner:      d.sessionID,
					origin:     d.origin,
					acquiredAt: time.Now(),
					released:   make(chan struct{}),
				})
			}
			obj.SetLockOwner(d.sessionID)
			acquired = true
			if d.origin != nil {
				origin := d.origin
				*after = append(*after, func() { origin.LockAcquired(ref, d.sessionID) })
			}
			return nil
		})
		if err != nil {
			return err
		}
		if acquired {
			c.metrics.RecordLockAcquired(time.Since(start))
			log.Printf("🔒 [LOCKS] %s acquired by %s", key, d.sessionID)
			return nil
		}

		select {
		case <-wait:
		case <-timer.C:
			c.metrics.RecordLockTimeout()
			return &LockTimeoutError{Ref: ref}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReleaseWriteLock releases a lock held by this session: it clears the tag,
// applies queued mutations in submission order, flushes the asset to disk
// and wakes waiters.
func (d *DataContext) ReleaseWriteLock(ctx context.Context, ref models.ObjectRef) error {
	c := d.core
	return c.withSection(ctx, func(after *[]func()) error {
		entry := c.locks.get(ref.Key())
		if entry == nil {
			return &ForeignLockError{Ref: ref, SessionID: d.sessionID}
		}
		if entry.owner != d.sessionID {
			return &ForeignLockError{Ref: ref, SessionID: d.sessionID, Owner: entry.owner}
		}
		return c.releaseLocked(entry, after, false)
	})
}

// ForceRelease releases ref regardless of its owner. A missing lock is not an error.
func (c *Core) ForceRelease(ctx context.Context, ref models.ObjectRef) error {
	return c.withSection(ctx, func(after *[]func()) error {
		entry := c.locks.get(ref.Key())
		if entry == nil {
			return nil
		}
		return c.releaseLocked(entry, after, true)
	})
}

// ReapStaleLocks force-releases every lock held longer than maxHold and
// returns what it released.
func (c *Core) ReapStaleLocks(ctx context.Context, maxHold time.Duration) ([]LockInfo, error) {
	var reaped []LockInfo
	for _, info := range c.locks.Snapshot() {
		if time.Since(info.AcquiredAt) < maxHold {
			continue
		}
		if err := c.ForceRelease(ctx, info.Ref); err != nil {
			return reaped, err
		}
		log.Printf("⏳ [LOCKS] Reaped stale lock %s held by %s since %s", info.Ref, info.Owner, info.AcquiredAt.Format(time.RFC3339))
		reaped = append(reaped, info)
	}
	return reaped, nil
}

// releaseLocked must run inside the critical section.
func (c *Core) releaseLocked(entry *lockEntry, after *[]func(), forced bool) error {
	key := entry.ref.Key()
	c.locks.drop(key)

	if obj, _ := c.resolver.ResolveObject(entry.ref); obj != nil && obj.LockOwner() == entry.owner {
		obj.SetLockOwner("")
	}

	c.drain(key)

	var flushErr error
	if assetID := models.AssetID(entry.ref); assetID != "" {
		if err := c.flush(assetID, ""); err != nil {
			flushErr = fmt.Errorf("flush %s: %w", assetID, err)
		}
	}

	close(entry.released)
	if entry.origin != nil {
		origin, ref, owner := entry.origin, entry.ref, entry.owner
		*after = append(*after, func() { origin.LockReleased(ref, owner) })
	}
	c.metrics.RecordLockReleased(forced)
	log.Printf("🔓 [LOCKS] %s released by %s", key, entry.owner)
	return flushErr
}

// drain applies the operations queued on key. Operations still blocked by a
// different lock move to that lock's queue.
func (c *Core) drain(key string) {
	for _, op := range c.locks.takeQueue(key) {
		if entry := c.blockedBy(op.mutation, op.sessionID); entry != nil {
			c.locks.enqueue(entry.ref.Key(), op)
			continue
		}
		if err := c.apply(op); err != nil {
			log.Printf("⚠️ [LOCKS] Deferred %s on %s failed: %v", op.mutation.Type, op.mutation.Ref, err)
		}
	}
}

// blockedBy returns the lock m has to wait for: one held by another session on
// the target or an ancestor, or, when m removes a whole asset, anywhere inside
// that asset.
func (c *Core) blockedBy(m models.Mutation, sessionID string) *lockEntry {
	if entry := c.locks.blocking(m.Ref, sessionID); entry != nil {
		return entry
	}
	assetID := models.AssetID(m.Ref)
	if assetID == "" || len(m.Ref.Segments()) != 2 {
		return nil
	}
	switch m.Type {
	case models.MutationDeleteObject, models.MutationRemoveFromCollection:
		return c.locks.foreignUnder(assetID, sessionID)
	}
	return nil
}

// apply runs one mutation, persists its asset and broadcasts it. Must run
// inside the critical section. A failed apply is not rolled back.
func (c *Core) apply(op deferredOp) error {
	m := op.mutation
	logger := logging.WithRef(logging.WithSession(op.sessionID, originID(op.origin)), m.Ref.Key())

	if err := c.applyMutation(m); err != nil {
		c.metrics.RecordMutation(string(m.Type), "error")
		logger.Error("mutation failed", "type", m.Type, "error", err)
		return err
	}

	persistErr := c.persistAfter(m)
	if persistErr != nil {
		logger.Error("persist after mutation failed", "type", m.Type, "error", persistErr)
	}

	if c.broadcaster != nil {
		except := ""
		if !op.fromServer {
			except = originID(op.origin)
		}
		c.broadcaster.SendToRef(models.ServerMessage{
			Type:      "asset_mutation",
			RequestID: op.sessionID,
			Ref:       m.Ref,
			Mutation:  &m,
		}, m.Ref, except)
	}

	c.metrics.RecordMutation(string(m.Type), string(OutcomeApplied))
	return persistErr
}

func (c *Core) applyMutation(m models.Mutation) error {
	switch m.Type {
	case models.MutationCreateObject, models.MutationInsertIntoCollection:
		col, err := c.collectionFor(m.Ref)
		if err != nil {
			return err
		}
		obj, err := models.DecodeObject(m.ObjectType, m.Object)
		if err != nil {
			return err
		}
		obj.SetObjectID(m.Ref.ID)
		index := -1
		if m.Type == models.MutationInsertIntoCollection && m.Index != nil {
			index = *m.Index
		}
		return col.Insert(obj, index)

	case models.MutationDeleteObject, models.MutationRemoveFromCollection:
		col, err := c.collectionFor(m.Ref)
		if err != nil {
			return err
		}
		if !col.Remove(m.Ref.ID) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, m.Ref.Key())
		}
		return nil

	case models.MutationSetValue:
		obj, err := c.objectFor(m.Ref)
		if err != nil {
			return err
		}
		return models.SetValue(obj, m.Key, m.Value)

	case models.MutationAppendToString:
		obj, err := c.objectFor(m.Ref)
		if err != nil {
			return err
		}
		var delta string
		if err := json.Unmarshal(m.Value, &delta); err != nil {
			return fmt.Errorf("%w: %s.%s", models.ErrNotAString, obj.Kind(), m.Key)
		}
		return models.AppendToString(obj, m.Key, delta)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMutation, m.Type)
}

func (c *Core) collectionFor(ref models.ObjectRef) (models.Collection, error) {
	col, err := c.resolver.ResolveCollection(ref.ParentCollection)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, ref.ParentCollection.Key())
	}
	return col, nil
}

func (c *Core) objectFor(ref models.ObjectRef) (models.Object, error) {
	obj, err := c.resolver.ResolveObject(ref)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref.Key())
	}
	return obj, nil
}

// persistAfter writes the asset a mutation touched, unless a lock is held
// somewhere inside it; the release flush covers that case. Creating or
// deleting a whole asset already went through storage.
func (c *Core) persistAfter(m models.Mutation) error {
	segments := m.Ref.Segments()
	if len(segments) == 2 {
		switch m.Type {
		case models.MutationCreateObject, models.MutationInsertIntoCollection,
			models.MutationDeleteObject, models.MutationRemoveFromCollection:
			if c.notify != nil {
				c.notify.SuppressNextNotification()
			}
			return nil
		}
	}
	assetID := models.AssetID(m.Ref)
	if assetID == "" || c.locks.HeldUnder(assetID) {
		return nil
	}
	return c.flush(assetID, chatScope(m))
}

func (c *Core) flush(assetID, scope string) error {
	asset := c.store.Get(assetID, "")
	if asset == nil {
		return nil
	}
	if asset.Type != models.AssetChat {
		scope = ""
	}
	if c.notify != nil {
		c.notify.SuppressNextNotification()
	}
	return c.store.UpdateAsset(asset.ID, asset, scope)
}

// chatScope names the part of a chat record a mutation can have changed:
// the edited top-level key, or the sub-collection the target lives in.
func chatScope(m models.Mutation) string {
	segments := m.Ref.Segments()
	switch {
	case len(segments) > 2:
		return segments[2]
	case m.Type == models.MutationSetValue, m.Type == models.MutationAppendToString:
		return m.Key
	}
	return ""
}

func originID(o Origin) string {
	if o == nil {
		return ""
	}
	return o.ID()
}
