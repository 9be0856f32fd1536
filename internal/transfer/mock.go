package transfer

import (
	"context"
	"net"
	"os"
	"sync"
	"time"
)

// mockLink is the state shared by both ends of a mock connection.
type mockLink struct {
	closed    chan struct{}
	closeOnce sync.Once
	severed   chan struct{}
	severOnce sync.Once

	mu      sync.Mutex
	streams []*mockStream
}

// MockConn is an in-memory Conn for tests. Streams are net.Pipe pairs, so
// they honour write deadlines.
type MockConn struct {
	link     *mockLink
	peer     *MockConn
	incoming chan *mockStream
	local    net.Addr
	remote   net.Addr

	mu     sync.Mutex
	filter func([]byte) []byte
}

var (
	_ Conn   = (*MockConn)(nil)
	_ Stream = (*mockStream)(nil)
)

// NewMockConnPair creates two connected in-memory connections.
func NewMockConnPair() (*MockConn, *MockConn) {
	link := &mockLink{
		closed:  make(chan struct{}),
		severed: make(chan struct{}),
	}
	addrA := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40001}
	addrB := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 2), Port: 40002}

	a := &MockConn{link: link, incoming: make(chan *mockStream, 8), local: addrA, remote: addrB}
	b := &MockConn{link: link, incoming: make(chan *mockStream, 8), local: addrB, remote: addrA}
	a.peer = b
	b.peer = a
	return a, b
}

// OpenStream opens a new stream; the remote end is queued for the peer's
// AcceptStream.
func (c *MockConn) OpenStream(ctx context.Context) (Stream, error) {
	select {
	case <-c.link.closed:
		return nil, net.ErrClosed
	default:
	}

	localEnd, remoteEnd := net.Pipe()
	local := c.link.track(localEnd, c)
	remote := c.link.track(remoteEnd, c.peer)

	select {
	case c.peer.incoming <- remote:
		return local, nil
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	case <-c.link.closed:
		return nil, net.ErrClosed
	}
}

// AcceptStream waits for a stream opened by the peer.
func (c *MockConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.incoming:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.link.closed:
		return nil, net.ErrClosed
	}
}

// RemoteAddr returns a documentation-range address for the peer.
func (c *MockConn) RemoteAddr() net.Addr {
	return c.remote
}

// Close tears down both ends and every stream.
func (c *MockConn) Close() error {
	c.link.closeOnce.Do(func() {
		close(c.link.closed)
		c.link.mu.Lock()
		streams := c.link.streams
		c.link.streams = nil
		c.link.mu.Unlock()
		for _, s := range streams {
			s.Close()
		}
	})
	return nil
}

// Closed is closed once either end has been closed.
func (c *MockConn) Closed() <-chan struct{} {
	return c.link.closed
}

// Sever simulates losing the network path. Writes on either end block
// until their deadline and then fail with a timeout; reads see nothing.
func (c *MockConn) Sever() {
	c.link.severOnce.Do(func() { close(c.link.severed) })
}

// SetWriteFilter installs f on every stream write made from this end. f
// must return a slice of the same length and must not modify its input.
func (c *MockConn) SetWriteFilter(f func([]byte) []byte) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *MockConn) writeFilter() func([]byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (l *mockLink) track(conn net.Conn, owner *MockConn) *mockStream {
	s := &mockStream{Conn: conn, owner: owner, closed: make(chan struct{})}
	l.mu.Lock()
	l.streams = append(l.streams, s)
	l.mu.Unlock()
	return s
}

type mockStream struct {
	net.Conn
	owner *MockConn

	mu        sync.Mutex
	deadline  time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *mockStream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return s.Conn.SetWriteDeadline(t)
}

func (s *mockStream) Write(p []byte) (int, error) {
	select {
	case <-s.owner.link.severed:
		return 0, s.blockSevered()
	default:
	}

	if f := s.owner.writeFilter(); f != nil && len(p) > 0 {
		return s.Conn.Write(f(p))
	}
	return s.Conn.Write(p)
}

func (s *mockStream) blockSevered() error {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-s.closed:
		return net.ErrClosed
	}
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.Conn.Close()
	})
	return nil
}
