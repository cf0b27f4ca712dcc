package sse

import (
	"errors"
	"sync"
	"time"

	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/protocol"
)

const (
	// Time between keepalive comments
	pingPeriod = 30 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 64
)

var (
	// ErrSendBufferFull is returned when the stream has not drained its queue
	ErrSendBufferFull = errors.New("sse: send buffer full")
	// ErrClientClosed is returned when sending to a finished stream
	ErrClientClosed = errors.New("sse: client closed")
)

// Client represents a connected SSE stream. It is a push-only connection:
// inbound actions arrive through the request/response API.
type Client struct {
	id          string
	playerID    model.PlayerID
	roomCode    model.RoomCode
	connectedAt time.Time
	send        chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new SSE client
func NewClient(id string, playerID model.PlayerID, roomCode model.RoomCode) *Client {
	return &Client{
		id:          id,
		playerID:    playerID,
		roomCode:    roomCode,
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// TrySend formats the event as an SSE message and queues it without blocking
func (c *Client) TrySend(event model.Event) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	msg := formatSSEMessage(string(event.Type), string(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close ends the stream. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
