// Package ws is the connection layer: it bridges websocket clients to the
// session cache. Message framing is a thin JSON envelope; the CRDT payloads
// inside stay opaque.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one subscriber connection. It implements core.SubscriberConn.
// The adapter owns the transport resources and closes them.
type Conn struct {
	id   core.ConnID
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewConn(id core.ConnID, conn WSConn) *Conn {
	return &Conn{
		id:   id,
		conn: conn,
		send: make(chan core.Frame, 256),
	}
}

func (c *Conn) ID() core.ConnID { return c.id }

// TrySend never blocks. A stale session may still hold this connection after
// the cache dropped it, so sends after Close must fail instead of panic.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// NotifyRoomDeleted pushes the deletion frame and closes; there is nothing
// left for the client to edit.
func (c *Conn) NotifyRoomDeleted() {
	data, err := sonic.Marshal(Envelope{Type: TypeRoomDeleted})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("room-deleted marshal")
		return
	}
	_ = c.TrySend(core.Frame(data))
	c.Close()
}

func (c *Conn) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

// StartWriteLoop pumps frames to the network.
func (c *Conn) StartWriteLoop(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-c.send:
				if !ok {
					return
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
