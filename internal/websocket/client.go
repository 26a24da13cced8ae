package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Viewers only receive board updates. The one frame they may send is a
// JSON ping, so inbound frames stay small.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendQueue      = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxInboundSize,
	WriteBufferSize: 4096,
	// The board is public and read-only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected leaderboard viewer
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is the only frame a viewer sends
type ClientMessage struct {
	Type string `json:"type"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendQueue),
		logger: logger.With("client_id", id),
	}
}

// listen consumes inbound frames until the peer goes away, then
// unregisters the viewer.
func (c *Client) listen() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("viewer connection lost", "error", err)
			}
			return
		}

		var msg ClientMessage
		if json.Unmarshal(frame, &msg) == nil && msg.Type == MessageTypePing {
			c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
			continue
		}
		c.logger.Debug("ignoring viewer frame", "size", len(frame))
	}
}

// deliver writes queued board messages and keeps the connection alive
// with protocol pings.
func (c *Client) deliver() {
	keepAlive := time.NewTicker(pingPeriod)
	defer func() {
		keepAlive.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			} else {
				kind, data = websocket.TextMessage, msg
			}
		case <-keepAlive.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}

// sendMessage queues msg; it is dropped when the viewer is too slow
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Debug("viewer queue full, message dropped", "type", msg.Type)
	}
}

// ServeWs upgrades the request and attaches the viewer to the hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.deliver()
	go client.listen()

	client.logger.Debug("viewer connected")
}
