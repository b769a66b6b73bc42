package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashHub/internal/protocol"
)

const sessionBuffer = 64

// Session manages client-side socket interactions with the hub.
type Session struct {
	addr     string
	conn     net.Conn
	encoder  *protocol.Encoder
	decoder  *protocol.Decoder
	messages chan protocol.Envelope

	writeMu   sync.Mutex
	cancelFn  context.CancelFunc
	closeOnce sync.Once
}

// NewSession prepares a session for addr.
func NewSession(addr string) *Session {
	return &Session{addr: addr, messages: make(chan protocol.Envelope, sessionBuffer)}
}

// Addr reports the server address of the session.
func (s *Session) Addr() string { return s.addr }

// Connect dials the server and starts reading frames.
func (s *Session) Connect(ctx context.Context) error {
	if s.addr == "" {
		return errors.New("no server address")
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.encoder = protocol.NewEncoder(conn)
	s.decoder = protocol.NewDecoder(conn, protocol.DefaultMaxFrameBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel
	go s.readLoop(readCtx)
	return nil
}

// Messages yields envelopes from the server. It is closed when the
// connection ends.
func (s *Session) Messages() <-chan protocol.Envelope {
	return s.messages
}

// Send dispatches an envelope to the server.
func (s *Session) Send(ctx context.Context, env protocol.Envelope) error {
	if s.conn == nil {
		return net.ErrClosed
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.encoder.Encode(ctx, env)
}

// Close terminates the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancelFn != nil {
			s.cancelFn()
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.messages)
	for {
		env, err := s.decoder.Decode(ctx)
		if err != nil {
			return
		}
		select {
		case s.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}
