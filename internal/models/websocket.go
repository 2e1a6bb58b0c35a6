package models

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type      string          `json:"type"` // "ping", "subscribe", "unsubscribe", "acquire_lock", "release_lock", "do_mutation"
	RequestID string          `json:"request_id,omitempty"`
	Ref       json.RawMessage `json:"ref,omitempty"`      // ObjectRef or CollectionRef
	Mutation  *Mutation       `json:"mutation,omitempty"` // For do_mutation
}

// ServerMessage represents a message sent to the client
type ServerMessage struct {
	Type      string    `json:"type"` // "connected", "pong", "lock_acquired", "lock_released", "asset_mutation", "assets_updated", "error"
	RequestID string    `json:"request_id,omitempty"`
	Ref       AnyRef    `json:"ref,omitempty"`
	Mutation  *Mutation `json:"mutation,omitempty"`
	Initial   bool      `json:"initial,omitempty"` // For assets_updated: true when the reload was self-triggered
	Count     int       `json:"count,omitempty"`   // For assets_updated: number of asset ids loaded
	Content   string    `json:"content,omitempty"`

	ErrorCode    string `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
}

// ParseRef decodes a reference sent by a client. Both the nested form
// ({"id":..,"parent_collection":..}) and a plain segment list are accepted.
func ParseRef(raw json.RawMessage) (AnyRef, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var segments []string
	if err := json.Unmarshal(raw, &segments); err == nil {
		ref := RefFromSegments(segments)
		return ref, ref != nil
	}
	var shape struct {
		ID               string          `json:"id"`
		ParentCollection json.RawMessage `json:"parent_collection"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil || shape.ID == "" {
		return nil, false
	}
	if len(shape.ParentCollection) > 0 {
		var ref ObjectRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, false
		}
		return ref, true
	}
	var ref CollectionRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, false
	}
	return ref, true
}

// Connection represents a single WebSocket connection
type Connection struct {
	ConnID    string
	Conn      *websocket.Conn
	ClientIP  string
	CreatedAt time.Time
	WriteChan chan ServerMessage
	StopChan  chan bool
	Mutex     sync.Mutex
	closed    bool // Track if connection is closed

	subscriptions map[string]struct{}
	heldLocks     map[string]HeldLock // ref key -> lock taken through this connection
}

// HeldLock is a lock taken through a connection and the request id it was
// taken under. One request id may hold several locks.
type HeldLock struct {
	Ref       ObjectRef
	RequestID string
}

// NewConnection creates a connection with its write queue.
func NewConnection(connID string, conn *websocket.Conn, bufSize int) *Connection {
	return &Connection{
		ConnID:        connID,
		Conn:          conn,
		CreatedAt:     time.Now(),
		WriteChan:     make(chan ServerMessage, bufSize),
		StopChan:      make(chan bool, 1),
		subscriptions: make(map[string]struct{}),
		heldLocks:     make(map[string]HeldLock),
	}
}

func (uc *Connection) ID() string { return uc.ConnID }

// SafeSend sends a message to WriteChan safely, returning false if the channel is closed
func (uc *Connection) SafeSend(msg ServerMessage) bool {
	uc.Mutex.Lock()
	if uc.closed {
		uc.Mutex.Unlock()
		return false
	}
	uc.Mutex.Unlock()

	// Use defer/recover to handle panic from send on closed channel
	defer func() {
		if r := recover(); r != nil {
			uc.Mutex.Lock()
			uc.closed = true
			uc.Mutex.Unlock()
		}
	}()

	uc.WriteChan <- msg
	return true
}

// TrySend queues msg without blocking; false when the queue is full or closed.
func (uc *Connection) TrySend(msg ServerMessage) (sent bool) {
	if uc.IsClosed() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			uc.MarkClosed()
			sent = false
		}
	}()

	select {
	case uc.WriteChan <- msg:
		return true
	default:
		return false
	}
}

// MarkClosed marks the connection as closed
func (uc *Connection) MarkClosed() {
	uc.Mutex.Lock()
	uc.closed = true
	uc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed
func (uc *Connection) IsClosed() bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	return uc.closed
}

// Subscribe registers interest in a reference subtree.
func (uc *Connection) Subscribe(ref AnyRef) {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	uc.subscriptions[ref.Key()] = struct{}{}
}

func (uc *Connection) Unsubscribe(ref AnyRef) {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	delete(uc.subscriptions, ref.Key())
}

// InterestedIn reports whether any ancestor of ref (or ref itself) is subscribed.
func (uc *Connection) InterestedIn(ref AnyRef) bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	for _, key := range AncestorKeys(ref) {
		if _, ok := uc.subscriptions[key]; ok {
			return true
		}
	}
	return false
}

// LockAcquired records the lock and tells the client.
func (uc *Connection) LockAcquired(ref ObjectRef, requestID string) {
	uc.Mutex.Lock()
	uc.heldLocks[ref.Key()] = HeldLock{Ref: ref, RequestID: requestID}
	uc.Mutex.Unlock()
	uc.SafeSend(ServerMessage{Type: "lock_acquired", RequestID: requestID, Ref: ref})
}

// LockReleased forgets the lock and tells the client.
func (uc *Connection) LockReleased(ref ObjectRef, requestID string) {
	uc.Mutex.Lock()
	delete(uc.heldLocks, ref.Key())
	uc.Mutex.Unlock()
	uc.SafeSend(ServerMessage{Type: "lock_released", RequestID: requestID, Ref: ref})
}

// HeldLocks returns the locks this connection still holds, ordered by ref key.
func (uc *Connection) HeldLocks() []HeldLock {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	out := make([]HeldLock, 0, len(uc.heldLocks))
	for _, held := range uc.heldLocks {
		out = append(out, held)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Key() < out[j].Ref.Key() })
	return out
}
