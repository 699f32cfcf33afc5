// Package ws pushes dashboard read-model updates to browser clients over
// WebSocket. The publisher hands serialized snapshots straight to the hub;
// Redis pub/sub channels are bridged as well so replicas without the feed
// lease still push trade and feed events to their clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optiondesk/paperbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware owns origin policy; the dashboard connects from
		// configured origins only.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed bus channels
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to adjust its channel set.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// ClientGauge tracks the connected client count. prometheus.Gauge satisfies
// it; nil disables tracking.
type ClientGauge interface {
	Inc()
	Dec()
}

// Config wires a Hub. Bus may be nil for single-instance deployments; the
// publisher then remains the only message source.
type Config struct {
	Bus domain.EventBus
	// BusChannels are subscribed on Run and forwarded to clients.
	BusChannels []string
	Clients     ClientGauge
	Logger      *slog.Logger
}

// Hub manages connected WebSocket clients. Messages arrive either directly
// through Broadcast or from the Redis event bus, and fan out to every client
// subscribed to the source channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	channels   []string
	gauge      ClientGauge
	logger     *slog.Logger

	// last is the most recent snapshot payload, replayed to clients on
	// connect so the dashboard renders before the next publish interval.
	lastMu sync.RWMutex
	last   []byte
}

// broadcastMsg carries a payload with its source channel so the hub routes it
// only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// localChannel marks payloads handed over by the in-process publisher.
const localChannel = "snapshot"

// NewHub creates a Hub.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        cfg.Bus,
		channels:   cfg.BusChannels,
		gauge:      cfg.Clients,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Broadcast queues a snapshot payload for every connected client. Implements
// the publisher's broadcaster contract; never blocks the caller.
func (h *Hub) Broadcast(payload []byte) {
	h.lastMu.Lock()
	h.last = payload
	h.lastMu.Unlock()

	select {
	case h.broadcast <- broadcastMsg{channel: localChannel, data: payload}:
	default:
		h.logger.Warn("broadcast queue full, dropping snapshot")
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message fan-out, and exits when the context is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range h.channels {
			go h.subscribeToChannel(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
				if h.gauge != nil {
					h.gauge.Dec()
				}
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			if h.gauge != nil {
				h.gauge.Inc()
			}
			h.logger.Info("client connected", slog.Int("total_clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				if h.gauge != nil {
					h.gauge.Dec()
				}
			}
			h.logger.Info("client disconnected", slog.Int("total_clients", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("dropping message for slow client")
				}
			}
		}
	}
}

// subscribeToChannel subscribes to a single bus channel and forwards received
// payloads to the hub's broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("subscribed to bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast <- broadcastMsg{channel: channel, data: data}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	// Everything by default; clients narrow with a subscribe message.
	c.subs[localChannel] = true
	for _, ch := range h.channels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendLastSnapshot()

	go c.writePump()
	go c.readPump()
}

// sendLastSnapshot replays the most recent snapshot so a fresh client renders
// immediately.
func (c *client) sendLastSnapshot() {
	c.hub.lastMu.RLock()
	last := c.hub.last
	c.hub.lastMu.RUnlock()
	if last == nil {
		return
	}
	select {
	case c.send <- last:
	default:
	}
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the WebSocket connection, with
// periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
