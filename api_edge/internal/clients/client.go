// Package clients owns the websocket edge: per-connection pumps, the
// auth-first handshake, and the per-room fan-out of sync deltas and
// control messages arriving over the bus.
package clients

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomdeck/pkg/auth"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after the socket opens
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection bound to one room.
type Client struct {
	manager *ClientManager
	conn    *websocket.Conn
	send    chan []byte

	id     string
	room   string
	claims *auth.Claims

	logger logging.Logger
}

func (c *Client) envelope(req models.RoomRequest) models.RequestEnvelope {
	env := models.RequestEnvelope{
		Room:     c.room,
		ClientID: c.id,
		Request:  req,
	}
	if c.claims != nil {
		env.UserID = c.claims.UserID
		env.Username = c.claims.Username
		env.LoggedIn = c.claims.LoggedIn
	}
	return env
}

// closeWith sends an application close frame and tears the socket down.
// WriteControl is safe against a concurrent write pump.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// enqueue hands a payload to the write pump. A client that cannot keep up
// is disconnected rather than blocking the fan-out.
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.logger.WithField("client_id", c.id).Warn("Client send buffer full, disconnecting")
		go c.manager.disconnect(c)
	}
}

// readPump runs the handshake and then pumps client messages to the
// manager. The first frame must be a valid auth message; everything before
// authentication besides that is a protocol violation.
func (c *Client) readPump() {
	defer func() {
		c.manager.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if !c.authenticate() {
		return
	}
	if err := c.manager.join(c); err != nil {
		c.closeWith(models.CloseRoomNotFound, "room not found")
		return
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Debug("Websocket read error")
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.WithError(err).Warn("Invalid client message")
			continue
		}

		switch msg.Action {
		case models.ActionReq:
			if msg.Request == nil {
				continue
			}
			c.manager.handleRequest(c, *msg.Request)
		case models.ActionStatus:
			c.manager.handleRequest(c, models.RoomRequest{Type: models.RequestStatus, Status: msg.Status})
		case models.ActionKickMe:
			c.closeWith(models.CloseKicked, msg.Reason)
			return
		case models.ActionAuth:
			// Already authenticated; ignore.
		default:
			c.logger.WithField("action", msg.Action).Warn("Unknown client action")
		}
	}
}

// authenticate reads the mandatory first auth frame and validates its
// session token. It closes the socket with CloseMissingToken on failure.
func (c *Client) authenticate() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(authWait))

	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Action != models.ActionAuth || msg.Token == "" {
		c.closeWith(models.CloseMissingToken, "auth message required")
		return false
	}

	claims, err := auth.ValidateToken(msg.Token, c.manager.jwtSecret)
	if err != nil {
		c.closeWith(models.CloseMissingToken, "invalid session token")
		return false
	}
	c.claims = claims
	return true
}

// writePump pumps queued payloads to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
