package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// ErrPeerClosed is wrapped around stream and connection errors caused by
// the remote side closing the connection.
var ErrPeerClosed = errors.New("peer closed the connection")

// Conn is the single authenticated connection between two peers.
// It provides the ability to open and accept bidirectional streams.
type Conn interface {
	// OpenStream opens a new bidirectional stream to the remote peer.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream waits for and accepts an incoming stream from the remote peer.
	AcceptStream(ctx context.Context) (Stream, error)

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Close closes the connection and all associated streams.
	Close() error
}

// Stream is a bidirectional byte stream between two peers.
type Stream interface {
	io.Reader
	io.Writer
	// SetWriteDeadline bounds pending and future writes. A zero value
	// clears the deadline.
	SetWriteDeadline(t time.Time) error
	// Close closes the stream. After Close is called, Read and Write operations
	// will return errors.
	Close() error
}
