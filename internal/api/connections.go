package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ChatConnections tracks open WebSocket chats per session key. Several clients
// may share one session.
type ChatConnections struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewChatConnections creates an empty registry.
func NewChatConnections() *ChatConnections {
	return &ChatConnections{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds conn under key.
func (m *ChatConnections) Register(key string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[key]; !exists {
		m.active[key] = make(map[*websocket.Conn]struct{})
	}
	m.active[key][conn] = struct{}{}
	slog.Debug("Chat connection registered", "session_key", key, "connections", len(m.active[key]))
}

// Unregister removes conn from key. Unknown connections are ignored.
func (m *ChatConnections) Unregister(key string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[key]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, key)
	}
}

// Count returns the number of open connections.
func (m *ChatConnections) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// Sessions returns how many connections key has.
func (m *ChatConnections) Sessions(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[key])
}

// CloseAll closes every tracked connection. http.Server.Shutdown does not
// touch hijacked connections, so this runs on shutdown.
func (m *ChatConnections) CloseAll(reason string) {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]map[*websocket.Conn]struct{})
	m.mu.Unlock()

	for key, conns := range all {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, reason)
		}
		slog.Info("Chat connections closed", "session_key", key, "count", len(conns))
	}
}
