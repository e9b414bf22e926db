package ws

import (
	"net"
	"sync"
)

// Registry is this process's delivery address book: a concurrency-safe map
// from user IDs to the live connections owned by this process. It has no
// cross-process visibility — cluster-wide facts (is the user online
// anywhere?) come from the presence coordinator, never from here.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // connection_id -> Connection
	byConn map[net.Conn]*Connection          // net.Conn -> Connection
	byUser map[string]map[string]*Connection // user_id -> connection_id -> Connection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection in all lookup maps.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byConn[conn.Conn] = conn
	userConns, ok := r.byUser[conn.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		r.byUser[conn.UserID] = userConns
	}
	userConns[conn.ID] = conn
	r.mu.Unlock()
}

// Remove removes a connection by ID and closes the underlying socket.
// Returns the removed connection, or nil if it was already gone — the nil
// return is the double-cleanup guard when a read error and a heartbeat
// timeout race to remove the same connection.
func (r *Registry) Remove(id string) *Connection {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byConn, conn.Conn)
		if userConns, ok := r.byUser[conn.UserID]; ok {
			delete(userConns, id)
			if len(userConns) == 0 {
				delete(r.byUser, conn.UserID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	conn.Close()
	return conn
}

// Get returns the connection for the given ID, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the Connection wrapping the given net.Conn, or nil.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	r.mu.RLock()
	conn := r.byConn[c]
	r.mu.RUnlock()
	return conn
}

// ForUser returns a snapshot of the user's connections on this process. The
// slice is safe to iterate without holding the lock. An unknown user yields
// an empty slice — fan-out to a user with no local sockets is a no-op, not
// an error.
func (r *Registry) ForUser(userID string) []*Connection {
	r.mu.RLock()
	userConns := r.byUser[userID]
	conns := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// Count returns the number of active connections on this process.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// UserCount returns the number of distinct users with at least one
// connection on this process.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// Broadcast sends a frame to every local connection. Per-connection write
// errors are ignored; dead connections get cleaned up when their next read
// fails or the heartbeat monitor evicts them.
func (r *Registry) Broadcast(frame []byte) {
	for _, conn := range r.All() {
		_ = conn.WriteFrame(frame)
	}
}
