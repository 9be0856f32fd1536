package transferquic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/quictransport"
	"github.com/sheerbytes/quicshare/internal/transfer"
)

var (
	_ transfer.Conn   = (*QUICConn)(nil)
	_ transfer.Stream = (*QUICStream)(nil)
)

// QUICConn wraps an established quic.Conn. It optionally owns the
// transport and UDP socket the connection runs on and releases them on
// Close, so the socket is closed exactly once.
type QUICConn struct {
	mu      sync.Mutex
	conn    *quic.Conn
	pending *quic.Stream
	owned   []io.Closer
	logger  *slog.Logger
	closed  bool
}

// NewConn wraps conn. owned are closed after the connection, in order.
func NewConn(conn *quic.Conn, logger *slog.Logger, owned ...io.Closer) *QUICConn {
	return &QUICConn{
		conn:   conn,
		owned:  owned,
		logger: logging.OrDiscard(logger),
	}
}

// NewConnWithStream wraps conn whose first inbound stream was already
// accepted; AcceptStream returns first before any other stream.
func NewConnWithStream(conn *quic.Conn, first *quic.Stream, logger *slog.Logger, owned ...io.Closer) *QUICConn {
	c := NewConn(conn, logger, owned...)
	c.pending = first
	return c
}

// Raw returns the underlying QUIC connection.
func (c *QUICConn) Raw() *quic.Conn {
	return c.conn
}

// OpenStream opens a new bidirectional stream to the remote peer.
func (c *QUICConn) OpenStream(ctx context.Context) (transfer.Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open QUIC stream: %w", classify(err))
	}

	c.logger.Debug("QUIC stream opened", "stream_id", stream.StreamID())
	return &QUICStream{stream: stream}, nil
}

// AcceptStream waits for and accepts an incoming stream from the remote peer.
func (c *QUICConn) AcceptStream(ctx context.Context) (transfer.Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	if first := c.pending; first != nil {
		c.pending = nil
		c.mu.Unlock()
		return &QUICStream{stream: first}, nil
	}
	conn := c.conn
	c.mu.Unlock()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", classify(err))
	}

	c.logger.Debug("QUIC stream accepted", "stream_id", stream.StreamID())
	return &QUICStream{stream: stream}, nil
}

// RemoteAddr returns the peer's UDP address.
func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection with the session-closed code, then releases
// the owned transport and socket.
func (c *QUICConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()

	err := c.conn.CloseWithError(quictransport.CodeSessionClosed, "session closed")
	for _, o := range owned {
		if cerr := o.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close QUIC connection: %w", err)
	}
	return nil
}

// QUICStream wraps a quic.Stream and implements transfer.Stream.
type QUICStream struct {
	mu     sync.Mutex
	stream *quic.Stream
	closed bool
}

// Read reads data from the stream.
func (s *QUICStream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	return n, classify(err)
}

// Write writes data to the stream. A zero-length write sends nothing but
// still reports a closed or timed-out connection.
func (s *QUICStream) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	return n, classify(err)
}

// SetWriteDeadline bounds pending and future writes.
func (s *QUICStream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}

// StreamID returns the QUIC stream ID.
func (s *QUICStream) StreamID() uint64 {
	return uint64(s.stream.StreamID())
}

// Close closes the send side and abandons the receive side.
func (s *QUICStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.stream.CancelRead(quictransport.CodeStreamReset)
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close QUIC stream: %w", err)
	}
	return nil
}

// classify marks errors caused by the remote side closing the connection
// with transfer.ErrPeerClosed. Timeouts keep their net.Error identity.
func classify(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote {
		return fmt.Errorf("%w: %w", transfer.ErrPeerClosed, err)
	}
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) && streamErr.Remote {
		return fmt.Errorf("%w: %w", transfer.ErrPeerClosed, err)
	}
	return err
}
