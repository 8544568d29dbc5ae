package chat

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Client is one live connection. A user may hold several at once.
type Client struct {
	Id   string
	Conn ConnLike
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

func NewClient(conn ConnLike, bufferSize int) *Client {
	return &Client{
		Id:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

// ReadPump hands every inbound frame to handle, one at a time and in arrival
// order, until the connection fails.
func (c *Client) ReadPump(handle func(data []byte)) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		handle(data)
	}
}

// WritePump is the only writer on Conn. It stops when the client is closed;
// anything still queued is discarded.
func (c *Client) WritePump() {
	for {
		select {
		case data := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				_ = c.Conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close marks the client as gone. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// enqueue is the fan-out path: it never blocks, and drops the frame when the
// buffer is full or the client is gone.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// deliver is the reply path: it waits for buffer space unless the client or
// ctx goes away first.
func (c *Client) deliver(ctx context.Context, data []byte) bool {
	select {
	case c.Send <- data:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}
