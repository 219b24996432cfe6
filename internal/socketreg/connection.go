// Package socketreg implements the Socket Registry: the local
// userId<->socket map plus cross-instance delivery over the Shared
// Store's pub/sub channel.
package socketreg

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairbridge/pkg/types"
)

// Connection wraps a gorilla *websocket.Conn behind a single writer
// goroutine. Non-critical frames (chat:typing) are dropped on a full
// queue instead of blocking the caller.
type Connection struct {
	conn     *websocket.Conn
	socketID string

	writeCh chan writeRequest

	mu     sync.RWMutex
	userID string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type writeRequest struct {
	data     []byte
	critical bool
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, socketID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:     conn,
		socketID: socketID,
		writeCh:  make(chan writeRequest, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()
	for {
		select {
		case req, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, req.data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEnvelope enqueues env for delivery. Critical frames block briefly
// (500ms) on a saturated queue, then close the connection and report
// ErrWriteTimeout; non-critical frames report ErrQueueFull immediately
// instead of blocking the caller.
func (c *Connection) WriteEnvelope(env types.Envelope, critical bool) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	req := writeRequest{data: data, critical: critical}
	if !critical {
		select {
		case c.writeCh <- req:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case c.writeCh <- req:
		return nil
	case <-time.After(500 * time.Millisecond):
		_ = c.Close()
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) SocketID() string { return c.socketID }

// Raw exposes the underlying gorilla connection for the Connection
// Supervisor's read pump and ping/pong heartbeat, which must act on the
// socket directly since Connection only owns the write path.
func (c *Connection) Raw() *websocket.Conn { return c.conn }

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func marshalEnvelope(env types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}
