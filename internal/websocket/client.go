package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Client is one authenticated websocket connection. Its id is ephemeral;
// user is the durable identity it was verified as.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	user   models.User
	logger *zap.Logger

	// slow is owned by the hub goroutine.
	slow bool
}

func NewClient(hub *Hub, conn *websocket.Conn, user models.User) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.opts.SendBuffer),
		user: user,
		logger: hub.opts.Logger.Named("client").With(
			zap.String("conn_id", id),
			zap.String("username", user.Username)),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Start registers the client and runs its pumps. It returns false, and closes
// the connection, when the hub is no longer running.
func (c *Client) Start() bool {
	if !c.hub.register(c) {
		c.conn.Close()
		return false
	}
	go c.WritePump()
	go c.ReadPump()
	return true
}

// ReadPump decodes inbound events in transport order until the connection
// fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		c.dispatch(message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
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
				c.logger.Debug("write failed", zap.Error(err))
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

// dispatch routes one inbound frame by its event type.
func (c *Client) dispatch(data []byte) {
	var in models.InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		c.reject("decode", errInvalidPayload)
		return
	}

	switch in.Type {
	case models.EventSendMessage:
		c.handleSendMessage(in.Payload)
	case models.EventPrivateMessage:
		c.handlePrivateMessage(in.Payload)
	case models.EventJoinChannel:
		c.handleJoinChannel(in.Payload)
	case models.EventLeaveChannel:
		c.handleLeaveChannel(in.Payload)
	case models.EventTyping:
		c.handleTyping(in.Payload)
	default:
		c.logger.Debug("unknown event", zap.String("type", string(in.Type)))
		c.hub.metrics.recordError("unknown_event")
		c.notify(models.EventError, models.ErrorPayload{Message: "unknown event type: " + string(in.Type)})
	}
}

// notify asks the hub to send an event to this client only.
func (c *Client) notify(eventType models.EventType, payload any) {
	c.hub.submit(notifyCmd{client: c, eventType: eventType, payload: payload})
}

func (c *Client) reject(reason string, err error) {
	c.logger.Debug("event rejected", zap.String("reason", reason), zap.Error(err))
	c.hub.metrics.recordError(reason)
	c.notify(models.EventError, models.ErrorPayload{Message: err.Error()})
}
