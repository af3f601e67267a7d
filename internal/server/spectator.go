package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/magefree/turnkit/internal/battle"
	"github.com/magefree/turnkit/internal/eventbus"
	"github.com/magefree/turnkit/internal/panel"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed
	},
}

// WSMessage is the envelope sent to spectators.
type WSMessage struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to connected websocket spectators.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int64
	sendBuffer int
	logger     *zap.Logger

	history      HistorySource
	historyLimit int
}

// NewHub creates a hub. Each client gets sendBuffer queued messages before
// it is dropped as too slow.
func NewHub(sendBuffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Run services registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			h.logger.Info("spectator connected", zap.String("client_id", c.id))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("spectator disconnected", zap.String("client_id", c.id))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn("dropping slow spectator", zap.String("client_id", c.id))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// ClientCount returns the number of connected spectators.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Publish queues msg for every spectator. It never blocks: when the
// broadcast queue is full the message is dropped.
func (h *Hub) Publish(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode spectator message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("spectator queue full, dropping message", zap.String("type", msg.Type))
	}
}

// Forward relays every E raised on bus to spectators as msgType.
func Forward[E any](h *Hub, bus *eventbus.Bus, msgType string, battleID func(E) string) eventbus.Subscription {
	return eventbus.Subscribe(bus, func(e E) {
		msg := WSMessage{Type: msgType, Data: e}
		if battleID != nil {
			msg.BattleID = battleID(e)
		}
		h.Publish(msg)
	})
}

// Attach forwards battle and panel events to spectators.
func (h *Hub) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	return []eventbus.Subscription{
		Forward(h, bus, "state_changed", func(e battle.BattleStateChangedEvent) string { return e.BattleID }),
		Forward(h, bus, "battle_ended", func(e battle.BattleEndedEvent) string { return e.BattleID }),
		Forward[panel.PanelOpenedEvent](h, bus, "panel_opened", nil),
		Forward[panel.PanelClosedEvent](h, bus, "panel_closed", nil),
	}
}

// ServeHTTP upgrades the request to a spectator websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}
	// Queued before registering so it is the first message and nothing else
	// writes to send yet.
	if msg := h.historyMessage(r.Context()); msg != nil {
		c.send <- msg
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// readPump only watches for the peer going away; spectators do not send.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
