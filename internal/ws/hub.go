package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
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

// channelMarkets is the global feed every client receives by default.
// Per-market feeds use "market:<id>".
const channelMarkets = "markets"

func marketChannel(marketID string) string {
	return "market:" + marketID
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Merchant dashboards connect cross-origin; auth happens upstream.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON frame a client sends to manage its market feeds.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// event is the envelope pushed to clients.
type event struct {
	Type      string      `json:"type"`
	MarketID  string      `json:"market_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// broadcastMsg carries a serialized event with its routing channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub fans market events out to connected WebSocket clients. It implements
// the event publisher the services layer writes to after commit.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run is the hub's event loop; call it in a goroutine. It exits when the
// context is cancelled, closing every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client connected (%d total)", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client disconnected (%d total)", total)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow client; drop the message rather than block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishOdds pushes a fresh odds projection for a market.
func (h *Hub) PublishOdds(marketID string, payload interface{}) {
	h.publish(marketChannel(marketID), event{
		Type:      "odds_update",
		MarketID:  marketID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishMarketStatus announces a lifecycle transition on both the market's
// own feed and the global feed.
func (h *Hub) PublishMarketStatus(marketID string, status string) {
	ev := event{
		Type:      "market_status",
		MarketID:  marketID,
		Payload:   map[string]string{"status": status},
		Timestamp: time.Now().UnixMilli(),
	}
	h.publish(marketChannel(marketID), ev)
	h.publish(channelMarkets, ev)
}

// PublishMarketDeleted announces a market removal on the global feed.
func (h *Hub) PublishMarketDeleted(marketID string) {
	h.publish(channelMarkets, event{
		Type:      "market_deleted",
		MarketID:  marketID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) publish(channel string, ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[WebSocket] Failed to marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		// Hub backlog is full; real-time events are best-effort.
	}
}

// ServeWS upgrades the request and registers the client.
// GET /v1/ws
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		return
	}

	cl := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{channelMarkets: true},
	}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// readPump consumes subscription frames until the connection drops.
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
				log.Printf("[WebSocket] Unexpected close: %v", err)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			for _, ch := range sub.Channels {
				c.subs[ch] = true
			}
		case "unsubscribe":
			for _, ch := range sub.Channels {
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	}
}

// writePump flushes queued events and keeps the connection alive with pings.
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
