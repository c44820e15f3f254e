// Package bridge connects a rendering layer to a widget orchestrator over
// WebSocket: views are pushed out, visitor actions come back in.
package bridge

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the renderer connections of each session.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Count returns the number of renderers attached to a session.
func (m *ConnManager) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// Register adds a renderer connection.
func (m *ConnManager) Register(sessionID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[string]*websocket.Conn)
	}
	m.active[sessionID][connID] = conn
	slog.Info("Renderer attached", "session_id", sessionID, "conn_id", connID)
}

// Unregister removes a renderer connection if it is still the registered one.
func (m *ConnManager) Unregister(sessionID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, sessionID)
			}
			slog.Info("Renderer detached", "session_id", sessionID, "conn_id", connID)
		}
	}
}

// CloseSession closes every renderer of a session.
func (m *ConnManager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}
	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Renderer closed", "session_id", sessionID, "conn_id", id)
	}
	delete(m.active, sessionID)
}
