package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"aiconsole/internal/logging"
	"aiconsole/internal/models"
	"aiconsole/internal/services"
	"aiconsole/internal/storage"
)

const (
	readTimeout  = 360 * time.Second
	pingInterval = 30 * time.Second
	writeBuffer  = 256
)

// WebSocketOptions tunes per-connection behavior.
type WebSocketOptions struct {
	MessageRate  float64 // inbound messages per second
	MessageBurst int
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	core        *services.Core
	metrics     *services.Metrics
	opts        WebSocketOptions
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, core *services.Core, metrics *services.Metrics, opts WebSocketOptions) *WebSocketHandler {
	if opts.MessageRate <= 0 {
		opts.MessageRate = 50
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 100
	}
	return &WebSocketHandler{
		connManager: connManager,
		core:        core,
		metrics:     metrics,
		opts:        opts,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)

	// Create a done channel to signal goroutines to stop
	done := make(chan struct{})
	// ctx ends pending lock waits once the client is gone.
	ctx, cancel := context.WithCancel(context.Background())
	var pending sync.WaitGroup

	conn := models.NewConnection(connID, c, writeBuffer)
	conn.ClientIP = clientIP

	h.connManager.Add(conn)
	h.metrics.RecordWebSocketConnect()
	defer func() {
		cancel()
		close(done)
		// Closed connections drop lock notifications instead of blocking on a dead writer.
		conn.MarkClosed()
		pending.Wait()
		h.releaseHeldLocks(conn)
		h.connManager.Remove(connID)
		h.metrics.RecordWebSocketDisconnect()
	}()

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	conn.SafeSend(models.ServerMessage{
		Type:    "connected",
		Content: connID,
	})

	h.readLoop(ctx, conn, &pending)
}

// pingLoop sends periodic pings to keep the WebSocket connection alive
func (h *WebSocketHandler) pingLoop(conn *models.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			if err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ [WS] Ping failed for %s: %v", conn.ConnID, err)
				conn.Mutex.Unlock()
				return
			}
			conn.Mutex.Unlock()
		}
	}
}

// readLoop handles incoming messages from the client.
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *models.Connection, pending *sync.WaitGroup) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [WS] Panic in readLoop: %v", r)
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst)

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("❌ [WS] Read error for %s: %v", conn.ConnID, err)
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("⚠️ [WS] Invalid message format from %s: %v", conn.ConnID, err)
			sendError(conn, "", "invalid_format", "Invalid message format")
			continue
		}
		h.metrics.RecordWebSocketMessage(msg.Type, "inbound")

		if !limiter.Allow() {
			sendError(conn, msg.RequestID, "rate_limited", "Too many messages, slow down")
			continue
		}

		h.route(ctx, conn, msg, pending)
	}
}

// route hands msg to dispatch. Lock acquisition may wait on another session,
// so it runs beside the read loop; every other message of a connection is
// handled in arrival order.
func (h *WebSocketHandler) route(ctx context.Context, conn *models.Connection, msg models.ClientMessage, pending *sync.WaitGroup) {
	if msg.Type == "acquire_lock" {
		pending.Add(1)
		go func() {
			defer pending.Done()
			h.dispatch(ctx, conn, msg)
		}()
		return
	}
	h.dispatch(ctx, conn, msg)
}

// dispatch handles one client message.
func (h *WebSocketHandler) dispatch(ctx context.Context, conn *models.Connection, msg models.ClientMessage) {
	switch msg.Type {
	case "ping":
		conn.SafeSend(models.ServerMessage{Type: "pong", RequestID: msg.RequestID})
	case "subscribe":
		if ref, ok := models.ParseRef(msg.Ref); ok {
			conn.Subscribe(ref)
		} else {
			sendError(conn, msg.RequestID, "invalid_ref", "subscribe needs a valid ref")
		}
	case "unsubscribe":
		if ref, ok := models.ParseRef(msg.Ref); ok {
			conn.Unsubscribe(ref)
		} else {
			sendError(conn, msg.RequestID, "invalid_ref", "unsubscribe needs a valid ref")
		}
	case "acquire_lock":
		h.handleAcquireLock(ctx, conn, msg)
	case "release_lock":
		h.handleReleaseLock(ctx, conn, msg)
	case "do_mutation":
		h.handleMutation(ctx, conn, msg)
	default:
		log.Printf("⚠️ [WS] Unknown message type: %s", msg.Type)
		sendError(conn, msg.RequestID, "unknown_type", "Unknown message type: "+msg.Type)
	}
}

// sessionID is the id a client acts under: its request id, or the connection
// id when it sent none.
func sessionID(conn *models.Connection, requestID string) string {
	if requestID != "" {
		return requestID
	}
	return conn.ConnID
}

func objectRef(raw json.RawMessage) (models.ObjectRef, bool) {
	ref, ok := models.ParseRef(raw)
	if !ok {
		return models.ObjectRef{}, false
	}
	obj, ok := ref.(models.ObjectRef)
	return obj, ok
}

func (h *WebSocketHandler) handleAcquireLock(ctx context.Context, conn *models.Connection, msg models.ClientMessage) {
	ref, ok := objectRef(msg.Ref)
	if !ok {
		sendError(conn, msg.RequestID, "invalid_ref", "acquire_lock needs an object ref")
		return
	}
	session := h.core.Session(sessionID(conn, msg.RequestID), conn)
	if err := session.AcquireWriteLock(ctx, ref); err != nil {
		logging.WithRef(logging.WithSession(session.SessionID(), conn.ConnID), ref.Key()).
			Warn("acquire_lock failed", "error", err)
		sendError(conn, msg.RequestID, errorCode(err), err.Error())
	}
}

func (h *WebSocketHandler) handleReleaseLock(ctx context.Context, conn *models.Connection, msg models.ClientMessage) {
	ref, ok := objectRef(msg.Ref)
	if !ok {
		sendError(conn, msg.RequestID, "invalid_ref", "release_lock needs an object ref")
		return
	}
	session := h.core.Session(sessionID(conn, msg.RequestID), conn)
	if err := session.ReleaseWriteLock(ctx, ref); err != nil {
		logging.WithRef(logging.WithSession(session.SessionID(), conn.ConnID), ref.Key()).
			Warn("release_lock failed", "error", err)
		sendError(conn, msg.RequestID, errorCode(err), err.Error())
	}
}

func (h *WebSocketHandler) handleMutation(ctx context.Context, conn *models.Connection, msg models.ClientMessage) {
	if msg.Mutation == nil {
		sendError(conn, msg.RequestID, "invalid_format", "do_mutation needs a mutation")
		return
	}
	session := h.core.Session(sessionID(conn, msg.RequestID), conn)
	if _, err := session.Mutate(ctx, *msg.Mutation, false); err != nil {
		sendError(conn, msg.RequestID, errorCode(err), err.Error())
	}
}

// releaseHeldLocks releases every lock the connection still holds.
func (h *WebSocketHandler) releaseHeldLocks(conn *models.Connection) {
	for _, held := range conn.HeldLocks() {
		if err := h.core.Session(held.RequestID, conn).ReleaseWriteLock(context.Background(), held.Ref); err != nil {
			log.Printf("⚠️ [WS] Failed to release %s for closed connection %s: %v", held.Ref, conn.ConnID, err)
			continue
		}
		log.Printf("🔓 [WS] Released %s held by closed connection %s", held.Ref, conn.ConnID)
	}
}

// writeLoop handles outgoing messages to the client
func (h *WebSocketHandler) writeLoop(conn *models.Connection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [WS] Panic in writeLoop: %v", r)
		}
	}()

	for msg := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ [WS] Write error for %s: %v", conn.ConnID, err)
			return
		}
	}
}

func sendError(conn *models.Connection, requestID, code, message string) {
	conn.SafeSend(models.ServerMessage{
		Type:         "error",
		RequestID:    requestID,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// errorCode maps core errors to the codes clients see.
func errorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, services.ErrForeignLock):
		return "foreign_lock"
	case errors.Is(err, services.ErrAssetLocked):
		return "asset_locked"
	case errors.Is(err, services.ErrUnknownRef):
		return "invalid_ref"
	case errors.Is(err, services.ErrObjectNotFound), errors.Is(err, services.ErrCollectionNotFound), errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, services.ErrUnknownMutation), errors.Is(err, services.ErrUnknownObjectType),
		errors.Is(err, models.ErrUnknownField), errors.Is(err, models.ErrNotAString), errors.Is(err, models.ErrWrongObjectType):
		return "invalid_mutation"
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, models.ErrDuplicateID):
		return "already_exists"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal_error"
}
