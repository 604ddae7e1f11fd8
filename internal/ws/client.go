package ws

import (
	"encoding/json"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// FrameSubscribed is the first frame of every session; events published
// after it are guaranteed to reach the client
const FrameSubscribed = "subscribed"

// CloseResync is sent when the server dropped the session's subscription;
// the client must reconnect and backfill with fetchRecent
const CloseResync = 4000

// Frame is the server to client wire unit
type Frame struct {
	Type      string                `json:"type"`
	ScopeID   string                `json:"scope_id"`
	Message   *domain.Message       `json:"message,omitempty"`
	MessageID string                `json:"message_id,omitempty"`
	Reaction  *domain.ReactionDelta `json:"reaction,omitempty"`
}

// Client represents a single WebSocket connection subscribed to one scope
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    *Subscription
	userID string
}

// NewClient subscribes the connection to scopeID
func NewClient(hub *Hub, conn *websocket.Conn, scopeID, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		sub:    hub.Subscribe(scopeID),
		userID: userID,
	}
}

// ReadPump reads messages from the WebSocket (handles pong/close)
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// Client messages are ignored (server-push only)
	}
}

// WritePump sends the subscribed frame, then every event, to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if err := c.writeJSON(&Frame{Type: FrameSubscribed, ScopeID: c.sub.ScopeID}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
				code, text := websocket.CloseNormalClosure, ""
				if c.sub.Dropped() {
					code, text = CloseResync, "resync required"
				}
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)) //nolint:errcheck
				return
			}
			if err := c.writeJSON(frameOf(ev)); err != nil {
				pkglogger.GetLogger().Debug().Err(err).Str("user_id", c.userID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func frameOf(ev *domain.Event) *Frame {
	return &Frame{
		Type:      string(ev.Type),
		ScopeID:   ev.ScopeID,
		Message:   ev.Message,
		MessageID: ev.MessageID,
		Reaction:  ev.Reaction,
	}
}
