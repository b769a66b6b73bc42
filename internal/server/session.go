package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
)

// tcpConn serializes frame writes to one TCP connection.
type tcpConn struct {
	conn         net.Conn
	encoder      *protocol.Encoder
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newTCPConn(conn net.Conn, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{
		conn:         conn,
		encoder:      protocol.NewEncoder(conn),
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.encoder.Encode(ctx, env)
}

// writeLoop drains the session's outbound queue until the session or ctx ends.
func (c *tcpConn) writeLoop(ctx context.Context, s *hub.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case env := <-s.Outbound():
			if err := c.send(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (c *tcpConn) remoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
