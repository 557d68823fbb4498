package rtc

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carelink/telecare-coordinator/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. Relay is fire-and-forget: frames for a
	// peer that cannot drain its buffer are dropped, not awaited.
	sendBuffer = 32
)

// Client is one authenticated WebSocket connection. The identity is bound at
// upgrade time and never changes.
type Client struct {
	identity auth.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte

	closeOnce sync.Once

	// roomID is the appointment id of the room this client is a member of,
	// or uuid.Nil. Guarded by hub.mu.
	roomID uuid.UUID
}

func newClient(hub *Hub, conn *websocket.Conn, identity auth.Identity) *Client {
	return &Client{
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// enqueue hands a frame to the write pump without blocking the caller.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Printf("dropping frame for slow connection identity=%s", c.identity.ID)
	}
}

func (c *Client) sendEnvelope(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("marshal outbound %s frame: %v", env.Kind, err)
		return
	}
	c.enqueue(frame)
}

func (c *Client) sendError(reason string) {
	c.sendEnvelope(Envelope{Kind: KindError, Reason: reason})
}

// shutdown closes the underlying transport once. The read pump's deferred
// cleanup handles room removal.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("connection error identity=%s: %v", c.identity.ID, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.sendError(ReasonBadRequest)
			continue
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch {
	case env.Kind == KindJoinRoom:
		c.hub.Join(c, env.AppointmentID)
	case env.Kind == KindLeaveRoom:
		c.hub.Leave(c)
	case isRelayKind(env.Kind):
		c.hub.Relay(c, env.RoomID, env.Kind, env.Payload)
	default:
		c.sendError(ReasonBadRequest)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
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
