package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/roomagent/messages"
	"github.com/room4-2/roomagent/session"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	readLimit       = 4 * 1024
)

// subscriber streams hub messages to one websocket client
type subscriber struct {
	conn *websocket.Conn
	sub  *session.Subscription

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
}

func newSubscriber(conn *websocket.Conn, sub *session.Subscription) *subscriber {
	conn.SetReadLimit(readLimit)
	return &subscriber{
		conn:      conn,
		sub:       sub,
		writeChan: make(chan *messages.ServerMessage, writeBufferSize),
		CloseChan: make(chan struct{}),
	}
}

// Start begins forwarding hub messages and reading control frames
func (c *subscriber) Start() {
	go c.writePump()
	go c.forward()
	go c.readPump()
}

func (c *subscriber) forward() {
	for {
		select {
		case <-c.CloseChan:
			return
		case msg, ok := <-c.sub.C:
			if !ok {
				c.Close()
				return
			}
			c.queueMessage(msg)
		}
	}
}

// writePump handles all outgoing messages in a single goroutine
func (c *subscriber) writePump() {
	defer func() {
		// Send close message before exiting
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.conn.Close()
	}()

	for {
		select {
		case <-c.CloseChan:
			return
		case msg := <-c.writeChan:
			data, err := messages.Encode(msg)
			if err != nil {
				log.Printf("⚠️ Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readPump answers pings and detects disconnects
func (c *subscriber) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("❌ Subscriber read error: %v", err)
			}
			return
		}

		_, ctrl, err := messages.DecodeClientMessage(data)
		if err != nil {
			c.queueMessage(messages.NewErrorMessage("", c.sub.Room, messages.ErrCodeInvalidMessage, err.Error()))
			continue
		}
		if ctrl != nil && ctrl.Action == messages.ActionPing {
			c.queueMessage(messages.NewStatusMessage("", c.sub.Room, messages.StatusPong, ""))
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (c *subscriber) queueMessage(msg *messages.ServerMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.writeChan <- msg:
	default:
		// Queue full, drop message
	}
}

// Close detaches from the hub and ends the pumps
func (c *subscriber) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.sub.Close()
	close(c.CloseChan)
}
