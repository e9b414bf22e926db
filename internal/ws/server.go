// Package ws is the live endpoint of the realtime core. It upgrades
// authenticated HTTP requests to WebSocket connections, registers them with
// an epoll instance for I/O readiness, dispatches inbound frames to a
// bounded worker pool, and keeps the per-process connection registry and the
// cluster-wide presence coordinator in sync.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/roamly/travel-app/internal/auth"
	"github.com/roamly/travel-app/internal/metrics"
	"github.com/roamly/travel-app/internal/presence"
	"github.com/roamly/travel-app/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server accepts and serves live connections for one process of the
// cluster. Frame semantics live in the handler callback; the server owns
// connection lifecycle, authentication at handshake, and presence lease
// bookkeeping.
type Server struct {
	config       ServerConfig
	poller       *Poller
	registry     *Registry
	verifier     *auth.Verifier
	coordinator  *presence.Coordinator
	workerPool   chan struct{}                        // semaphore limiting concurrent read workers
	onFrame      func(conn *Connection, data []byte) // frame handler callback
	onDisconnect func(conn *Connection)              // called after a connection is removed
	extraRoutes  map[string]http.HandlerFunc
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. The onFrame callback runs on a worker
// goroutine whenever a complete text frame arrives from a client.
func NewServer(config ServerConfig, verifier *auth.Verifier, coordinator *presence.Coordinator, onFrame func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:      config,
		registry:    NewRegistry(),
		verifier:    verifier,
		coordinator: coordinator,
		workerPool:  make(chan struct{}, config.WorkerPoolSize),
		onFrame:     onFrame,
		extraRoutes: make(map[string]http.HandlerFunc),
		done:        make(chan struct{}),
	}
}

// Handle registers an additional HTTP route served alongside the live
// endpoint. Must be called before Start.
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.extraRoutes[pattern] = handler
}

// SetOnDisconnect registers a callback invoked after a connection is
// removed (read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Start initializes the poller, configures the HTTP server, and begins
// accepting connections. It blocks on ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/presence/me", s.handlePresenceMe)
	mux.HandleFunc("/presence/online", s.handlePresenceOnline)
	mux.HandleFunc("/presence/stats", s.handlePresenceStats)
	mux.HandleFunc("/presence/query", s.handlePresenceQuery)
	for pattern, handler := range s.extraRoutes {
		mux.HandleFunc(pattern, handler)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the bearer token and upgrades the HTTP
// request to a WebSocket connection. An invalid or expired token is
// refused before the upgrade, so no registry or presence state is touched.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		log.Printf("ws: handshake rejected: %v", err)
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    claims.UserID(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.registry.Add(c)
	if err := s.poller.Add(conn); err != nil {
		log.Printf("ws: poller add failed conn=%s: %v", c.ID, err)
		s.registry.Remove(c.ID)
		return
	}
	metrics.ConnectionsActive.Set(float64(s.registry.Count()))

	// Create the presence lease. A shared-store hiccup degrades presence,
	// not connectivity: the socket stays up and the next inbound frame
	// retries the lease via the heartbeat path.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.coordinator.MarkConnected(ctx, c.UserID, c.ID); err != nil {
		log.Printf("ws: presence lease failed conn=%s: %v", c.ID, err)
	}

	ack, err := protocol.NewServerFrame(protocol.TypeConnected, protocol.ConnectedFrame{
		ConnectionID: c.ID,
		UserID:       c.UserID,
	})
	if err != nil {
		log.Printf("ws: failed to build connected frame conn=%s: %v", c.ID, err)
	} else if err := c.WriteFrame(ack); err != nil {
		log.Printf("ws: failed to send connected frame conn=%s: %v", c.ID, err)
	}

	log.Printf("ws: new connection conn=%s user=%s (total=%d)", c.ID, c.UserID, s.registry.Count())
}

// handleHealth responds with the server's health status as JSON, used by
// the load balancer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the poller wait loop. Each batch of ready connections
// is dispatched to worker goroutines bounded by the pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so control frames are handled without blocking on a
// data frame that may never arrive. Any frame, control or data, counts as
// liveness and refreshes the connection's presence lease.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.registry.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poller
		// dispatch). The heartbeat monitor handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	c.Touch()
	s.refreshLease(c)

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: liveness already recorded, nothing else to do.
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onFrame != nil {
		s.onFrame(c, data)
	}
}

// refreshLease extends the presence TTL for a connection. Called on every
// inbound frame; failures degrade presence accuracy, never the connection.
func (s *Server) refreshLease(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.coordinator.Heartbeat(ctx, c.UserID, c.ID); err != nil {
		log.Printf("ws: lease refresh failed conn=%s: %v", c.ID, err)
	}
}

// RemoveConnection removes a connection from the poller and registry,
// closes the socket, releases its presence lease, and notifies the
// application layer. Exported so the heartbeat monitor can evict dead
// connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Remove(c.Conn)

	// Only one of the racing removers (read error vs heartbeat timeout)
	// gets the non-nil return and performs cleanup.
	removed := s.registry.Remove(c.ID)
	if removed == nil {
		return
	}
	metrics.ConnectionsActive.Set(float64(s.registry.Count()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.coordinator.MarkDisconnected(ctx, c.UserID, c.ID); err != nil {
		log.Printf("ws: presence release failed conn=%s: %v", c.ID, err)
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed conn=%s user=%s (total=%d)", c.ID, c.UserID, s.registry.Count())
}

// SendToUser writes a frame to every local connection of the given user.
// Returns the number of connections written to; zero is normal when the
// user has no sockets on this process.
func (s *Server) SendToUser(userID string, data []byte) int {
	sent := 0
	for _, c := range s.registry.ForUser(userID) {
		if s.config.WriteTimeout > 0 {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}
		err := c.WriteFrame(data)
		_ = c.Conn.SetWriteDeadline(time.Time{})
		if err == nil {
			sent++
		}
	}
	return sent
}

// Registry returns the connection registry for external access (heartbeat
// monitor, fan-out, stats).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Coordinator returns the presence coordinator.
func (s *Server) Coordinator() *presence.Coordinator {
	return s.coordinator
}

// Shutdown gracefully stops the server: the HTTP listener, the event loop,
// all active connections and their presence leases, and the poller.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.registry.All() {
		relCtx, relCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.coordinator.MarkDisconnected(relCtx, c.UserID, c.ID)
		relCancel()
		_ = s.poller.Remove(c.Conn)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks for the interrupted-syscall error, which is expected
// during signal handling and retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
