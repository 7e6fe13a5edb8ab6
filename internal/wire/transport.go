package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// Transport carries one request and returns the complete response.
type Transport interface {
	RoundTrip(ctx context.Context, req []byte) ([]byte, error)
	Close() error
}

// Handler creates a Session per connection.
type Handler interface {
	NewSession() Session
}

// Session serves the requests of one connection in order. The negotiated
// protocol version lives in the session.
type Session interface {
	Handle(ctx context.Context, req []byte) []byte
}

// LocalTransport serves requests in process through a single Session.
type LocalTransport struct {
	mu      sync.Mutex
	session Session
	closed  bool
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport opens an in-process session on h.
func NewLocalTransport(h Handler) *LocalTransport {
	return &LocalTransport{session: h.NewSession()}
}

// RoundTrip hands a copy of req to the session.
func (t *LocalTransport) RoundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return t.session.Handle(ctx, append([]byte(nil), req...)), nil
}

// Close ends the session. It is idempotent.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// TCPTransport sends framed requests over one TCP connection, one request
// at a time. A failed exchange closes the connection.
type TCPTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

var _ Transport = (*TCPTransport)(nil)

// Dial connects to a master at addr.
func Dial(ctx context.Context, addr string) (*TCPTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &TCPTransport{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// RoundTrip writes req and waits for the response. The context deadline
// bounds the exchange and cancelling the context aborts it.
func (t *TCPTransport) RoundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	deadline, _ := ctx.Deadline()
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, t.fail(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := WriteFrame(t.conn, req); err != nil {
		return nil, t.fail(ctx, err)
	}
	resp, err := ReadFrame(t.reader)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	return resp, nil
}

// fail closes the broken connection and prefers the context error.
func (t *TCPTransport) fail(ctx context.Context, err error) error {
	t.closed = true
	_ = t.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close closes the connection. It is idempotent.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
