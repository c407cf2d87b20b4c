// Package live pushes session, profile and status updates to browser viewers
// over WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open viewer connections by device and tab.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds a connection. An older connection for the same tab is closed.
func (m *Registry) Register(viewerID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[viewerID]; !exists {
		m.active[viewerID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[viewerID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "viewer replaced")
	}

	m.active[viewerID][tabID] = conn
	m.logger.Info("Viewer registered", "viewer_id", viewerID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the current one for its tab.
func (m *Registry) Unregister(viewerID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tabs, ok := m.active[viewerID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == conn {
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(m.active, viewerID)
		}
		m.logger.Info("Viewer unregistered", "viewer_id", viewerID, "tab_id", tabID)
	}
}

// Count returns the number of open connections.
func (m *Registry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, tabs := range m.active {
		n += len(tabs)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (m *Registry) CloseAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for viewerID, tabs := range m.active {
		for tabID, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, reason)
			m.logger.Info("Viewer closed", "viewer_id", viewerID, "tab_id", tabID)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
