package tcp

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ConnectionInfo is a point-in-time view of one session for status reporting.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	State       string    `json:"state"`
	Processed   int64     `json:"processed"`
}

// ConnectionManager tracks open sessions. It is used for reporting and forced
// shutdown only, sessions never route messages through it.
type ConnectionManager struct {
	clients map[string]*ClientConnection
	// key: client ID, value: ClientConnection pointer
	mu     sync.RWMutex // read-write mutex for concurrent access
	logger *slog.Logger
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.logger.Info("client_added",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr,
	)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID)
	m.logger.Info("client_removed",
		"client_id", client.ID,
		"state", client.State().String(),
		"processed", client.Processed(),
	)
}

// Count returns the number of open sessions.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Snapshot lists the open sessions ordered by connect time.
func (m *ConnectionManager) Snapshot() []ConnectionInfo {
	m.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(m.clients))
	for _, c := range m.clients {
		infos = append(infos, ConnectionInfo{
			ID:          c.ID,
			RemoteAddr:  c.RemoteAddr,
			ConnectedAt: c.ConnectedAt,
			State:       c.State().String(),
			Processed:   c.Processed(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// CloseAllConnections closes every open socket. Sessions notice on their next
// read or write and unregister themselves.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
}
