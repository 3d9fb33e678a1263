package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per subscriber.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local operator surface
}

// Client represents one subscriber connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	groups map[string]bool
	logger *zap.Logger
}

// subscribeRequest is the control message subscribers send to pick dispatch
// types. An empty or "*" type selects everything.
type subscribeRequest struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Type   string `json:"type"`
}

// HandleEvents upgrades one subscriber onto the hub.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.NewString(),
		groups: make(map[string]bool),
		logger: h.logger,
	}

	h.register <- client

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// readPump reads control messages from the subscriber.
func (c *Client) readPump() {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes relayed events to the subscriber.
func (c *Client) writePump() {
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
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
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

// handleMessage processes one subscriber control message.
func (c *Client) handleMessage(data []byte) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Debug("undecodable control message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	group := req.Type
	if group == "" {
		group = wildcardGroup
	}

	switch req.Action {
	case "subscribe":
		if !isValidGroup(group) {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", group),
			)
			return
		}
		c.hub.joinGroup(c, group)
	case "unsubscribe":
		c.hub.leaveGroup(c, group)
	}
}

// isValidGroup accepts the wildcard plus SCREAMING_SNAKE dispatch type names.
func isValidGroup(group string) bool {
	if group == wildcardGroup {
		return true
	}
	if group == "" || len(group) > 64 {
		return false
	}
	for _, r := range group {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
