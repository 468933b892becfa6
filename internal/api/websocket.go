package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"

	"tree-display/internal/config"
	"tree-display/internal/scene"
	"tree-display/internal/spatial"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4096
	wsSendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Non-browser clients send no origin.
		if origin == "" || IsAllowedOrigin(origin) {
			return true
		}

		logs.WithTag("origin", origin).
			WithTag("ip", GetClientIP(r)).
			Warn(errors.New("websocket connection rejected"))
		RecordConnectionRejected("origin")
		return false
	},
}

// wsMessage is the envelope of every frame in both directions.
type wsMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// viewportQuery is sent by clients whenever their view or cursor moves.
type viewportQuery struct {
	Method string  `json:"method"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	W      float32 `json:"w"`
	H      float32 `json:"h"`
	Limit  *int    `json:"limit"`
}

// cursorCommand moves or resizes the client's erase cursor. Op "erase"
// removes every dynamic quadtree object under it.
type cursorCommand struct {
	X  float32 `json:"x"`
	Y  float32 `json:"y"`
	Op string  `json:"op"`
}

type wsIncoming struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsClient is one WebSocket connection. send is closed exactly once, by the
// hub, under mu.
type wsClient struct {
	id      string
	ip      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	cursor  scene.Cursor // Only touched by readPump

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues msg without blocking. It reports false when the client is
// gone or too slow to keep up.
func (c *wsClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WebSocketHub manages WebSocket clients: it answers their viewport queries
// and fans out scene events to all of them.
type WebSocketHub struct {
	scene     SceneInterface
	cfg       config.ServerConfig
	cursorCfg config.CursorConfig

	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter
}

// NewWebSocketHub creates a hub. Nothing runs until Run is called.
func NewWebSocketHub(s SceneInterface, cfg config.ServerConfig, cursor config.CursorConfig) *WebSocketHub {
	return &WebSocketHub{
		scene:      s,
		cfg:        cfg,
		cursorCfg:  cursor,
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(cfg.MaxWSPerIP),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			logs.WithTag("client_id", c.id).
				WithTag("ip", c.ip).
				WithTag("clients", count).
				Info("websocket client connected")
			UpdateWSConnections(count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			count := len(h.clients)
			h.mu.Unlock()

			logs.WithTag("client_id", c.id).
				WithTag("clients", count).
				Info("websocket client disconnected")
			UpdateWSConnections(count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.enqueue(msg) {
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop forgets c and releases its IP slot. h.mu must be held.
func (h *WebSocketHub) drop(c *wsClient) {
	delete(h.clients, c)
	h.wsLimiter.Release(c.ip)
	c.close()
}

// Broadcast sends an event to all connected clients. Events are dropped
// when the hub is backed up.
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(wsMessage{Event: event, Data: data})
	if err != nil {
		logs.Warn(errors.New("encoding broadcast failed").
			WithTag("event", event).
			Wrap(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and serves the client. The hub must
// be running.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= h.cfg.MaxWSClients {
		logs.WithTag("clients", total).
			Warn(errors.New("websocket connection rejected: total limit reached"))
		RecordConnectionRejected("ws_total_limit")
		writeError(w, "too many connections", "ws_total_limit", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Allow(ip) {
		logs.WithTag("ip", ip).
			Warn(errors.New("websocket connection rejected: per-IP limit reached"))
		RecordConnectionRejected("ws_ip_limit")
		writeError(w, "too many connections from your IP", "ws_ip_limit", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.WithTag("ip", ip).Debug(errors.New("websocket upgrade failed").Wrap(err))
		h.wsLimiter.Release(ip)
		return
	}

	perSec := h.cfg.WSQueryPerSec
	if perSec <= 0 {
		perSec = config.DefaultServer().WSQueryPerSec
	}
	c := &wsClient{
		id:      uuid.NewString(),
		ip:      ip,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
		cursor:  scene.NewCursor(h.cursorCfg),
		send:    make(chan []byte, wsSendBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	h.reply(c, "hello", h.hello(c))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *WebSocketHub) hello(c *wsClient) map[string]interface{} {
	all := scene.Methods()
	names := make([]string, len(all))
	for i, m := range all {
		names[i] = m.String()
	}
	return map[string]interface{}{
		"id":      c.id,
		"area":    toRectJSON(h.scene.Area()),
		"methods": names,
		"active":  h.scene.Active().String(),
	}
}

func (h *WebSocketHub) reply(c *wsClient, event string, data interface{}) {
	msg, err := json.Marshal(wsMessage{Event: event, Data: data})
	if err != nil {
		logs.WithTag("client_id", c.id).Warn(errors.New("encoding reply failed").Wrap(err))
		return
	}
	c.enqueue(msg)
}

// readPump answers viewport queries until the connection fails.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in wsIncoming
		if err := json.Unmarshal(raw, &in); err != nil {
			h.reply(c, "error", map[string]string{"error": "invalid message", "type": ErrTypeBadRequest})
			continue
		}

		switch in.Event {
		case "query", "cursor":
		default:
			logs.WithTag("client_id", c.id).
				WithTag("event", in.Event).
				Debug(errors.New("unknown websocket event"))
			continue
		}

		if !c.limiter.Allow() {
			RecordConnectionRejected("ws_query_limit")
			h.reply(c, "error", map[string]string{"error": "too many queries", "type": "ws_query_limit"})
			continue
		}

		err = nil
		if in.Event == "query" {
			var q viewportQuery
			if err = json.Unmarshal(in.Data, &q); err == nil {
				h.query(c, q)
			}
		} else {
			var cmd cursorCommand
			if err = json.Unmarshal(in.Data, &cmd); err == nil {
				h.moveCursor(c, cmd)
			}
		}
		if err != nil {
			h.reply(c, "error", map[string]string{"error": "invalid " + in.Event, "type": ErrTypeBadRequest})
		}
	}
}

func (h *WebSocketHub) moveCursor(c *wsClient, cmd cursorCommand) {
	switch cmd.Op {
	case "", "move", "erase":
	case "grow":
		c.cursor.Grow()
	case "shrink":
		c.cursor.Shrink()
	case "zoom_in":
		c.cursor.ZoomIn()
	case "zoom_out":
		c.cursor.ZoomOut()
	default:
		h.reply(c, "error", map[string]string{"error": "unknown cursor op " + cmd.Op, "type": ErrTypeBadRequest})
		return
	}

	rect := c.cursor.Rect(spatial.Vec2{X: cmd.X, Y: cmd.Y})
	if cmd.Op == "erase" {
		out := newEraseResponse(h.scene.Erase(rect))
		RecordMutation("erase", out.Removed)
		if out.Removed > 0 {
			h.Broadcast("objects:erased", out)
		}
	}
	h.reply(c, "cursor", map[string]interface{}{
		"size": c.cursor.Size(),
		"rect": toRectJSON(rect),
	})
}

func (h *WebSocketHub) query(c *wsClient, q viewportQuery) {
	m := h.scene.Active()
	if q.Method != "" {
		parsed, err := scene.ParseMethod(q.Method)
		if err != nil {
			h.reply(c, "error", map[string]string{"error": err.Error(), "type": errors.Type(err)})
			return
		}
		m = parsed
	}

	limit := h.cfg.MaxResults
	if q.Limit != nil && *q.Limit >= 0 {
		limit = min(*q.Limit, limit)
	}

	rect := spatial.NewRect(q.X, q.Y, q.W, q.H)
	res, err := h.scene.Query(m, rect, limit)
	if err != nil {
		h.reply(c, "error", map[string]string{"error": err.Error(), "type": errors.Type(err)})
		return
	}
	RecordQuery(res)
	h.reply(c, "query:result", newSearchResponse(res, rect))
}

// writePump is the only writer of c.conn.
func (h *WebSocketHub) writePump(c *wsClient) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
		IncrementWSMessages()
	}

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
