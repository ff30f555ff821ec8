package preview

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/rxpdf/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// client is one connected browser tab.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reload messages out to every connected browser.
//
// All client bookkeeping happens on the hub goroutine; register, unregister
// and broadcast are its only inputs.
type Hub struct {
	clients    map[*websocket.Conn]*client
	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan []byte
	count      chan chan int

	allowedHosts []string
	logger       logging.Logger
}

// NewHub creates a Hub accepting connections whose Origin host is one of
// allowedHosts (host:port).
func NewHub(allowedHosts []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		clients:      make(map[*websocket.Conn]*client),
		register:     make(chan *client, 32),
		unregister:   make(chan *websocket.Conn, 32),
		broadcast:    make(chan []byte, 256),
		count:        make(chan chan int),
		allowedHosts: allowedHosts,
		logger:       logger.WithComponent("preview-hub"),
	}
}

// Run processes hub events until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for conn, c := range h.clients {
			close(c.send)
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(h.clients, conn)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.conn] = c
			h.logger.Debug(ctx, "client connected", "clients", len(h.clients))

		case conn := <-h.unregister:
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
				h.logger.Debug(ctx, "client disconnected", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for conn, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Client's send channel is full, drop it
					delete(h.clients, conn)
					close(c.send)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Broadcast queues message for every client. It never blocks; messages are
// dropped when the hub is saturated.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn(context.Background(), nil, "dropping broadcast, hub queue full")
	}
}

// Clients returns the number of connected clients. It must only be called
// while Run is active.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.allowedHosts,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

// checkOrigin validates the request origin. Browsers always send one on a
// WebSocket upgrade, so a missing Origin is rejected.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
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

	for _, allowed := range h.allowedHosts {
		if strings.EqualFold(originURL.Host, allowed) {
			return true
		}
	}
	return false
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		h.unregister <- c.conn
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, pongWait)
		_, _, err := c.conn.Read(readCtx)
		cancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug(ctx, "websocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
