package handlers

import (
	"log"
	"sync"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/utils"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// SDP offers run to tens of kilobytes, so the read limit is generous.
	maxMessageSize = 128 * 1024
)

// Client is one websocket connection's delivery queue plus write pump. The
// queue is bounded: droppable events (typing, presence) are discarded when
// it is full, anything else hitting a full queue means the peer is
// unresponsive past the hard cap and the connection is torn down.
type Client struct {
	ID       string
	identity models.Identity
	conn     *websocket.Conn
	send     chan models.ServerEvent

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(identity models.Identity, conn *websocket.Conn, queueSize int) *Client {
	if queueSize < 1 {
		queueSize = 64
	}
	return &Client{
		ID:       uuid.New().String(),
		identity: identity,
		conn:     conn,
		send:     make(chan models.ServerEvent, queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Client) Identity() models.Identity { return c.identity }

// Enqueue hands an event to the write pump without blocking the caller.
func (c *Client) Enqueue(ev models.ServerEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
	}

	if ev.Droppable() {
		log.Printf("dropping %s for slow client %s", ev.Event, c.identity.UserID)
		return false
	}

	log.Printf("client %s unresponsive, closing (queue full on %s)", c.identity.UserID, ev.Event)
	c.Close()
	return false
}

// Close shuts the connection down; pending queue contents are discarded and
// the read loop unblocks. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the queue onto the wire and keeps the connection alive
// with pings. It owns all writes to the conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
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

// readLoop reads client intents until the connection dies and feeds them to
// handle. It applies the read limit and pong-refreshed deadline.
func (c *Client) readLoop(handle func(models.ClientIntent)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error from %s: %v", c.identity.UserID, err)
			}
			return
		}

		var intent models.ClientIntent
		if err := utils.SafeJSONParse(raw, &intent); err != nil {
			log.Printf("bad intent from %s: %v", c.identity.UserID, err)
			continue
		}
		handle(intent)
	}
}
