// Package transport implements the WebSocket transport backing
// replication.Host's EnterMessageContext: one gorilla/websocket connection
// per recipient, a per-recipient token bucket guarding acquisition, and an
// SPSC ring buffer per connection decoupling the socket's read goroutine
// from the single-threaded dispatch loop that feeds replication.System.
package transport

import (
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"netsnap/internal/replication"
)

// MaxConnections caps how many peers the hub will accept at once.
const MaxConnections = 500

// inboundQueueCapacity bounds how many unread frames a stalled dispatch
// loop lets a single connection accumulate before the read goroutine's
// TryPush starts dropping them.
const inboundQueueCapacity = 64

// AllowedOrigins lists origins the WebSocket upgrade accepts besides
// localhost, which is always allowed.
var AllowedOrigins = []string{}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost") {
		return true
	}
	for _, allowed := range AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients (CLI demo peers) send no Origin.
		}
		if isAllowedOrigin(origin) {
			return true
		}
		log.Printf("transport: rejected connection from origin %s", origin)
		return false
	},
}

// Hub owns every live connection and implements the acquisition half of
// replication.Host's EnterMessageContext.
type Hub struct {
	mu          sync.RWMutex
	connections map[uint64]*connection

	limiter *RecipientLimiter
	metrics replication.MetricsSink

	// OnDisconnect, if set, is called after a connection is removed from
	// the hub, so the owning Host can drop its replication.System
	// per-client state in step with the transport's bookkeeping.
	OnDisconnect func(clientID uint64)
}

// NewHub constructs an empty Hub. A nil metrics sink discards connect and
// disconnect events.
func NewHub(metrics replication.MetricsSink) *Hub {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{
		connections: make(map[uint64]*connection),
		limiter:     NewRecipientLimiter(DefaultRecipientLimitConfig),
		metrics:     metrics,
	}
}

// Stop halts the rate limiter's cleanup goroutine.
func (h *Hub) Stop() {
	h.limiter.Stop()
}

// Accept upgrades r into a WebSocket connection registered under
// clientID. The caller supplies clientID (handshake/auth is outside this
// package's scope); ok is false if the hub is full or the upgrade failed.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, clientID uint64) (ok bool) {
	h.mu.RLock()
	count := len(h.connections)
	h.mu.RUnlock()
	if count >= MaxConnections {
		log.Printf("transport: rejecting client %d, hub full (%d connections)", clientID, count)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return false
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade failed for client %d: %v", clientID, err)
		return false
	}

	c := newConnection(clientID, r.RemoteAddr, conn, inboundQueueCapacity)
	h.mu.Lock()
	h.connections[clientID] = c
	n := len(h.connections)
	h.mu.Unlock()

	h.metrics.PeerConnected(clientID)
	log.Printf("transport: client %d connected from %s (%d total)", clientID, c.ip, n)

	go h.readLoop(c)
	return true
}

// Disconnect closes and forgets clientID's connection, if any.
func (h *Hub) Disconnect(clientID uint64) {
	h.mu.Lock()
	c, ok := h.connections[clientID]
	if ok {
		delete(h.connections, clientID)
	}
	n := len(h.connections)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.conn.Close()
	h.metrics.PeerDisconnected(clientID)
	log.Printf("transport: client %d disconnected (%d remaining)", clientID, n)

	if h.OnDisconnect != nil {
		h.OnDisconnect(clientID)
	}
}

func (h *Hub) readLoop(c *connection) {
	defer h.Disconnect(c.clientID)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.inbound.TryPush(data) {
			log.Printf("transport: inbound queue full for client %d, dropping frame", c.clientID)
		}
	}
}

// EnterMessageContext implements the acquisition half of
// replication.Host. It rate-limits by recipient, looks up the live
// connection, and returns a WriteCloser scoped to one binary WebSocket
// message; class and channel are accepted for interface compatibility but
// every message on this transport is binary snapshot data.
func (h *Hub) EnterMessageContext(class replication.MessageClass, channel string, recipient uint64) (io.WriteCloser, bool) {
	if !h.limiter.Allow(recipient) {
		return nil, false
	}

	h.mu.RLock()
	c, found := h.connections[recipient]
	h.mu.RUnlock()
	if !found {
		return nil, false
	}

	c.writeMu.Lock()
	inner, err := c.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		c.writeMu.Unlock()
		log.Printf("transport: NextWriter failed for client %d: %v", recipient, err)
		return nil, false
	}
	return &lockedWriter{c: c, inner: inner}, true
}

// DrainInbound pops every buffered frame from every connection's inbound
// queue and invokes handle(clientID, frame) for each, in per-connection
// FIFO order. It must be called from the same single goroutine that drives
// replication.System, never concurrently with itself.
func (h *Hub) DrainInbound(handle func(clientID uint64, frame []byte)) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		for {
			frame, ok := c.inbound.TryPop()
			if !ok {
				break
			}
			handle(c.clientID, frame)
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) CapacityError(string)    {}
func (noopMetrics) IntegrityError(string)   {}
func (noopMetrics) BytesSent(int)           {}
func (noopMetrics) PeerConnected(uint64)    {}
func (noopMetrics) PeerDisconnected(uint64) {}
