// Package websocket pushes cache changes to connected browsers.
//
// A Hub owns every client connection. Connections are registered and
// unregistered through channels served by Run, and each published change is
// encoded once and fanned out to the per-client send buffers. A client whose
// buffer is full is dropped rather than slowing the publisher down.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/bloxciting/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. A peer that does not answer
	// before the next write deadline is disconnected.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 256
)

// MessageType identifies what happened to an entry.
type MessageType string

const (
	MessageEntryUpdated MessageType = "entry_updated"
	MessageEntryRemoved MessageType = "entry_removed"
	MessageCompileError MessageType = "compile_error"
)

// Message is the JSON document sent to clients.
type Message struct {
	Type      MessageType `json:"type"`
	Path      string      `json:"path"`
	Hash      string      `json:"hash,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Options configure origin validation.
type Options struct {
	// AllowedOrigins lists accepted origins, either as full origins
	// ("http://localhost:3000") or bare hosts ("localhost:3000").
	AllowedOrigins []string
	// AllowAnyOrigin disables the origin check. Only development servers set it.
	AllowAnyOrigin bool
	// PingInterval overrides how often idle connections are pinged.
	PingInterval time.Duration
}

// Client is one connected browser.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages client connections and broadcasting.
type Hub struct {
	// clients and every send channel are guarded by clientsMutex; a send
	// channel is only written or closed while it is held.
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.Mutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	opts   Options
	logger logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
	sent         atomic.Int64
	dropped      atomic.Int64
}

// NewHub creates a hub. Call Run to start serving registrations and
// broadcasts.
func NewHub(logger logging.Logger, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client, 32),
		unregister: make(chan *websocket.Conn, 32),
		opts:       opts,
		logger:     logger.WithComponent("websocket"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run serves the hub until ctx is cancelled or Close is called. Every
// remaining client is disconnected on return.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case conn := <-h.unregister:
			h.unregisterClient(conn)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// Broadcast queues msg for every connected client. It never blocks; the
// message is dropped when the hub is shut down or its queue is full.
func (h *Hub) Broadcast(msg Message) {
	if h.isShutdown.Load() {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal broadcast message", "type", msg.Type)
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.dropped.Add(1)
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping message", "type", msg.Type, "path", msg.Path)
	}
}

// ServeHTTP upgrades the request to a websocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if !h.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "WebSocket connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were validated above.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		conn.Close(websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// IsAllowedOrigin reports whether a websocket may be opened from origin.
func (h *Hub) IsAllowedOrigin(origin string) bool {
	if h.opts.AllowAnyOrigin {
		return true
	}
	if origin == "" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == origin || allowed == originURL.Host {
			return true
		}
	}
	return false
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	return len(h.clients)
}

// Stats reports delivery counters.
type Stats struct {
	Clients int   `json:"clients"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		Clients: h.Clients(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
}

// Close disconnects every client and stops Run. It is safe to call more
// than once.
func (h *Hub) Close() error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()
		h.closeAll()
		h.logger.Info(context.Background(), "WebSocket hub shut down")
	})
	return nil
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	if h.isShutdown.Load() {
		h.clientsMutex.Unlock()
		client.conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}
	h.clients[client.conn] = client
	total := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(h.ctx, "WebSocket client connected", "clients", total)
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	removed := h.removeLocked(conn)
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if removed {
		h.logger.Debug(h.ctx, "WebSocket client disconnected", "clients", total)
	}
}

// removeLocked drops conn and closes its send channel, which ends its
// write pump. The caller holds clientsMutex.
func (h *Hub) removeLocked(conn *websocket.Conn) bool {
	client, ok := h.clients[conn]
	if !ok {
		return false
	}
	delete(h.clients, conn)
	close(client.send)
	return true
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	for conn, client := range h.clients {
		select {
		case client.send <- message:
			h.sent.Add(1)
		default:
			// Send buffer full: the client is too slow to keep up.
			h.dropped.Add(1)
			h.removeLocked(conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for conn := range h.clients {
		h.removeLocked(conn)
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *Client) {
	defer func() {
		select {
		case h.unregister <- c.conn:
		case <-h.ctx.Done():
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Browsers never send data frames, so reads carry no deadline. Pongs are
	// consumed inside Read; dead peers are found by the pings in writePump.
	for {
		_, _, err := c.conn.Read(h.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive.
func (h *Hub) writePump(c *Client) {
	interval := h.pingInterval()
	pingTimeout := min(writeWait, 10*interval)
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "WebSocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "WebSocket ping failed", "error", err.Error())
				return
			}
		}
	}
}

func (h *Hub) pingInterval() time.Duration {
	if h.opts.PingInterval > 0 {
		return h.opts.PingInterval
	}
	return pingPeriod
}
