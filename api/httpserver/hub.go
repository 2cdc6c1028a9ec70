package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clob/domain/events"
	"clob/domain/symbol"
	"clob/infra/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Resolver finds the rules used to render an event's numbers.
type Resolver interface {
	Symbol(name string) (*symbol.Symbol, error)
}

// Hub fans live events out to WebSocket clients. It implements
// events.Publisher and never blocks the caller: a client whose buffer is
// full is disconnected.
type Hub struct {
	symbols  Resolver
	buffer   int
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	// all is set for clients that connected without ?symbol=. subs
	// overrides it per symbol: false entries are unsubscribed symbols.
	all  bool
	subs map[string]bool
}

// subscribeRequest is what clients send to change their symbol set.
type subscribeRequest struct {
	Op      string   `json:"op"` // subscribe | unsubscribe
	Symbols []string `json:"symbols"`
}

func NewHub(symbols Resolver, buffer int, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		symbols: symbols,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced by the router.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: m,
		logger:  logger.With(zap.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
}

var _ events.Publisher = (*Hub)(nil)

// Publish renders each event once and hands it to every interested client.
func (h *Hub) Publish(_ context.Context, evs []events.Event) error {
	for _, ev := range evs {
		sym, err := h.symbols.Symbol(ev.Symbol)
		if err != nil {
			h.logger.Warn("event for unknown symbol", zap.String("symbol", ev.Symbol))
			continue
		}
		msg, err := json.Marshal(eventView(sym, ev))
		if err != nil {
			h.logger.Error("encode event", zap.Error(err))
			continue
		}
		h.broadcast(ev.Symbol, msg)
	}
	return nil
}

func (h *Hub) broadcast(sym string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(sym) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow client", zap.String("symbol", sym))
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection. Repeated ?symbol= parameters set the
// initial subscription; without any the client gets every symbol.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.buffer), subs: make(map[string]bool)}
	initial := r.URL.Query()["symbol"]
	c.all = len(initial) == 0
	for _, s := range initial {
		c.subs[s] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.metrics.WSClients.Inc()
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.WSClients.Dec()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.logger.Debug("invalid client message", zap.Error(err))
			continue
		}
		c.update(req)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) wants(sym string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if on, ok := c.subs[sym]; ok {
		return on
	}
	return c.all
}

func (c *client) update(req subscribeRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range req.Symbols {
		switch req.Op {
		case "subscribe":
			c.subs[s] = true
		case "unsubscribe":
			if c.all {
				c.subs[s] = false
			} else {
				delete(c.subs, s)
			}
		}
	}
}
