package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 60 * time.Second
	wsPingEvery    = 30 * time.Second
	wsClientQueue  = 256
	wsHubQueue     = 4096
)

// frame is one encoded event plus the bot it belongs to, for filtering
type frame struct {
	bot     string
	payload []byte
}

// WSClient is one streaming connection. A non-empty bot limits the stream
// to that bot's events.
type WSClient struct {
	conn *websocket.Conn
	bot  string
	out  chan []byte
	gone chan struct{}
	hub  *WSHub
}

func (c *WSClient) wants(f frame) bool {
	return c.bot == "" || f.bot == "" || c.bot == f.bot
}

// WSHub streams bus events to websocket clients. Clients that fall behind
// are dropped rather than slowing the others.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	frames chan frame
	joins  chan *WSClient
	leaves chan *WSClient

	done     chan struct{}
	stopOnce sync.Once
	logger   *logging.Logger
}

// NewWSHub returns a hub; call Run to start it
func NewWSHub(logger *logging.Logger) *WSHub {
	if logger == nil {
		logger = logging.Default()
	}
	return &WSHub{
		clients: make(map[*WSClient]struct{}),
		frames:  make(chan frame, wsHubQueue),
		joins:   make(chan *WSClient),
		leaves:  make(chan *WSClient),
		done:    make(chan struct{}),
		logger:  logger.WithComponent("ws_hub"),
	}
}

// Run owns the client set until Close
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.leaves:
			h.drop(c)
		case f := <-h.frames:
			h.deliver(f)
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.out)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WSHub) drop(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
}

func (h *WSHub) deliver(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.out <- f.payload:
		default:
			h.logger.Warn("Dropping slow websocket client", "bot_filter", c.bot)
			delete(h.clients, c)
			close(c.out)
		}
	}
}

// Close disconnects every client and makes Run return
func (h *WSHub) Close() {
	h.stopOnce.Do(func() { close(h.done) })
}

// BroadcastEvent queues e for every interested client. It never blocks.
func (h *WSHub) BroadcastEvent(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Event not encodable", "type", e.Type, "error", err)
		return
	}
	select {
	case h.frames <- frame{bot: e.Bot, payload: payload}:
	default:
		h.logger.Warn("Websocket queue full, event dropped", "type", e.Type, "bot", e.Bot)
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) join(c *WSClient) bool {
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *WSHub) leave(c *WSClient) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// originChecker accepts requests without an Origin header, and those whose
// origin is listed or when "*" is listed
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// handleWebSocket upgrades GET /ws[?bot=NAME] and streams events
func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins(s.config.AllowedOrigins)),
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn: conn,
		bot:  c.Query("bot"),
		out:  make(chan []byte, wsClientQueue),
		gone: make(chan struct{}),
		hub:  s.hub,
	}
	if !s.hub.join(client) {
		conn.Close()
		return
	}
	go client.writeLoop()
	go client.readLoop()
}

// writeLoop sends queued events and keepalive pings until the hub closes
// the queue or the reader gives up
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, open := <-c.out:
			if !open {
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
			kind = websocket.PingMessage
		case <-c.gone:
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// readLoop discards client frames. It exists to process pongs and close
// frames, and to notice a dead peer via the idle deadline.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
		close(c.gone)
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	}
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}
