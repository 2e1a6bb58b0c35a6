package services

import (
	"aiconsole/internal/models"
	"log"
	"sync"
)

// Relay forwards broadcasts to other server instances.
type Relay interface {
	PublishToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string)
	PublishToAll(msg models.ServerMessage)
}

// ConnectionManager manages all active WebSocket connections
type ConnectionManager struct {
	connections map[string]*models.Connection
	mutex       sync.RWMutex
	relay       Relay
	metrics     *Metrics
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.Connection),
	}
}

// SetRelay makes every broadcast also go to other instances.
func (cm *ConnectionManager) SetRelay(relay Relay) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.relay = relay
}

// SetMetrics attaches outbound message counters.
func (cm *ConnectionManager) SetMetrics(metrics *Metrics) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.metrics = metrics
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		conn.MarkClosed()
		close(conn.WriteChan)
		close(conn.StopChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.Connection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// GetAll returns all active connections
func (cm *ConnectionManager) GetAll() []*models.Connection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conns := make([]*models.Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

// SendToRef delivers msg to every local connection subscribed to ref or one
// of its ancestors, skipping exceptConnID, and relays it to other instances.
func (cm *ConnectionManager) SendToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string) {
	cm.DeliverToRef(msg, ref, exceptConnID)

	cm.mutex.RLock()
	relay := cm.relay
	cm.mutex.RUnlock()
	if relay != nil {
		relay.PublishToRef(msg, ref, exceptConnID)
	}
}

// DeliverToRef is SendToRef restricted to connections of this instance.
func (cm *ConnectionManager) DeliverToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string) int {
	delivered := 0
	for _, conn := range cm.GetAll() {
		if conn.ConnID == exceptConnID || !conn.InterestedIn(ref) {
			continue
		}
		if cm.trySend(conn, msg) {
			delivered++
		}
	}
	return delivered
}

// SendToAll delivers msg to every connection here and on other instances.
func (cm *ConnectionManager) SendToAll(msg models.ServerMessage) {
	cm.DeliverToAll(msg)

	cm.mutex.RLock()
	relay := cm.relay
	cm.mutex.RUnlock()
	if relay != nil {
		relay.PublishToAll(msg)
	}
}

// DeliverToAll is SendToAll restricted to connections of this instance.
func (cm *ConnectionManager) DeliverToAll(msg models.ServerMessage) int {
	delivered := 0
	for _, conn := range cm.GetAll() {
		if cm.trySend(conn, msg) {
			delivered++
		}
	}
	return delivered
}

// trySend never blocks the caller; a connection whose queue is full misses
// the message.
func (cm *ConnectionManager) trySend(conn *models.Connection, msg models.ServerMessage) bool {
	if !conn.TrySend(msg) {
		log.Printf("⚠️ [WS] Dropped %s for %s (queue full or closed)", msg.Type, conn.ConnID)
		return false
	}
	cm.mutex.RLock()
	metrics := cm.metrics
	cm.mutex.RUnlock()
	metrics.RecordWebSocketMessage(msg.Type, "outbound")
	return true
}
