package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin from the app frontend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub relays redis pub/sub envelopes to websocket clients attached to a
// search channel. One pattern subscription covers every search.
type Hub struct {
	rdb *redis.Client
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // channel -> clients

	cancel context.CancelFunc
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(rdb *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rdb:     rdb,
		log:     logger,
		clients: map[string]map[*client]struct{}{},
	}
}

// Start subscribes to all search channels and begins relaying.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	sub := h.rdb.PSubscribe(ctx, "search:*")
	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				h.log.Warn("realtime.hub.subscription_close_failed", "error", err)
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.broadcast(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
}

// Stop tears down the relay. Connected clients are closed by their pumps.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) broadcast(channel string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[channel] {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the relay.
		}
	}
}

// ServeSearch upgrades the request and attaches the client to one search
// channel until either side disconnects.
func (h *Hub) ServeSearch(w http.ResponseWriter, r *http.Request, searchID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("realtime.hub.upgrade_failed", "search_id", searchID, "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	channel := Channel(searchID)

	h.mu.Lock()
	if h.clients[channel] == nil {
		h.clients[channel] = map[*client]struct{}{}
	}
	h.clients[channel][c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("realtime.hub.client_attached", "search_id", searchID)

	go h.writePump(c)
	h.readPump(c, channel)
}

func (h *Hub) detach(c *client, channel string) {
	h.mu.Lock()
	if set, ok := h.clients[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, channel)
		}
	}
	h.mu.Unlock()
	close(c.send)
}

func (h *Hub) readPump(c *client, channel string) {
	defer func() {
		h.detach(c, channel)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients never send application data; reads only service control frames.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
