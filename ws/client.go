package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezcool/mahudhurio/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 16
)

// Envelope is the wire format of every real-time message, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is the authenticated participant attached to a connection,
// extracted from the JWT claims at upgrade time. The protocol trusts these
// values; it only ever re-checks the attendance token.
type Identity struct {
	ID        string
	Name      string
	Email     string
	IsTeacher bool
	IsStudent bool
}

// Client is one live websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity Identity
	send     chan []byte
	logger   core.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, identity Identity, logger core.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBufSize),
		logger:   logger,
	}
}

func (c *Client) Identity() Identity { return c.identity }

// Reply unicasts an event to this connection only, independent of room
// membership. Used for the per-scan success/error acknowledgement.
func (c *Client) Reply(event string, data interface{}) {
	msg, err := marshalEnvelope(event, data)
	if err != nil {
		c.logger.Error(fmt.Sprintf("marshalling %s reply: %v", event, err), err)
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn(fmt.Sprintf("dropping %s reply to a slow connection", event))
	}
}

// Run pumps the connection until it drops, dispatching every inbound envelope
// to the protocol. It blocks; the caller owns the connection's goroutine.
func (c *Client) Run(protocol *Protocol) {
	go c.writePump()
	c.readPump(protocol)
}

func (c *Client) readPump(protocol *Protocol) {
	defer func() {
		c.hub.LeaveAll(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug(fmt.Sprintf("connection dropped: %v", err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Debug(fmt.Sprintf("discarding malformed message: %v", err))
			continue
		}
		protocol.Handle(c, env)
	}
}

func (c *Client) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
