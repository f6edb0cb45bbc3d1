package remote

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livecast/internal/events"
)

// HubConfig tunes the websocket event stream.
type HubConfig struct {
	PingPeriod   time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
	OutboxLength int
}

// Message is one event as written to websocket clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub broadcasts UI events to every connected websocket client. Slow
// clients are dropped rather than allowed to block the session.
type Hub struct {
	cfg      HubConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

var _ events.Emitter = (*Hub)(nil)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func NewHub(cfg HubConfig, logger zerolog.Logger) *Hub {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4096
	}
	if cfg.OutboxLength <= 0 {
		cfg.OutboxLength = 32
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger.With().Str("module", "remote.hub").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// Emit queues the event for every client.
func (h *Hub) Emit(name string, payload any) {
	data, err := json.Marshal(Message{Event: name, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", name).Msg("marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Msg("dropping slow websocket client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// serve upgrades the request and streams events until the client leaves.
// snapshot, when set, is sent before any broadcast event. It runs with the
// hub locked and must not call Emit.
func (h *Hub) serve(c *gin.Context, snapshot func() Message) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, h.cfg.OutboxLength)}

	// The snapshot is taken and the client registered under one lock, so an
	// event is either reflected in the snapshot or delivered after it.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	if snapshot != nil {
		if data, err := json.Marshal(snapshot()); err == nil {
			client.send <- data
		}
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().Str("remote", c.ClientIP()).Msg("websocket client connected")
	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// readPump discards client messages and keeps the pong deadline current.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(h.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingPeriod))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
