package ws

import (
	"errors"
	"sync"

	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/protocol"
)

var (
	// ErrSendBufferFull is returned when a slow peer has not drained its queue
	ErrSendBufferFull = errors.New("ws: send buffer full")
	// ErrConnClosed is returned when sending to a closed connection
	ErrConnClosed = errors.New("ws: connection closed")
)

// Conn is one WebSocket peer as seen by the multiplexer
type Conn struct {
	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(id string, buffer int) *Conn {
	return &Conn{
		id:   id,
		send: make(chan []byte, buffer),
	}
}

// ID returns the connection id
func (c *Conn) ID() string {
	return c.id
}

// TrySend queues an event for the write loop without blocking
func (c *Conn) TrySend(event model.Event) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the write loop. Safe to call more than once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
