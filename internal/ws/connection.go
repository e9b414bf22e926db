package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single authenticated WebSocket connection. It is owned
// exclusively by the process that accepted it and is never replicated; the
// cluster-wide view of this connection is its presence lease.
type Connection struct {
	ID        string    // connection ID (UUID), also the presence lease suffix
	UserID    string    // authenticated user that owns this socket
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastActivity atomic.Int64 // unix nanos of the last inbound frame; read by the heartbeat goroutine
	writeMu      sync.Mutex   // serializes writes to this connection
	processing   int32        // atomic flag: 0 = idle, 1 = being read
}

// Touch records inbound activity. Called from read workers; the heartbeat
// monitor reads concurrently, hence the atomic.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last inbound frame of any kind.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// WriteFrame sends a WebSocket text frame to this connection. The write
// mutex keeps concurrent fan-out goroutines from interleaving frame bytes.
func (c *Connection) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9); browsers answer
// with a pong automatically.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
