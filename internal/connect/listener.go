package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/quicshare/internal/candidate"
	"github.com/sheerbytes/quicshare/internal/identity"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/quictransport"
	"github.com/sheerbytes/quicshare/internal/transfer"
	"github.com/sheerbytes/quicshare/internal/transferquic"
)

var punchPayload = []byte{0xFF}

// Listener is the responder's Establisher: punch, then accept one peer.
type Listener struct {
	id            *identity.Identity
	port          *candidate.ReservedPort
	peer          candidate.Offer
	punchCount    int
	acceptTimeout time.Duration
	logger        *slog.Logger
}

// ListenerOption customizes a Listener.
type ListenerOption func(*Listener)

// WithAcceptTimeout bounds the wait for the initiator.
func WithAcceptTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.acceptTimeout = d
		}
	}
}

// WithPunchCount sets datagrams sent per target.
func WithPunchCount(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.punchCount = n
		}
	}
}

// NewListener prepares to accept the peer described by offer on port.
func NewListener(id *identity.Identity, port *candidate.ReservedPort, offer candidate.Offer, logger *slog.Logger, opts ...ListenerOption) *Listener {
	l := &Listener{
		id:            id,
		port:          port,
		peer:          offer,
		punchCount:    DefaultPunchCount,
		acceptTimeout: DefaultAcceptTimeout,
		logger:        logging.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Punch sends count throwaway datagrams from conn to every target.
// Send failures are expected for unreachable targets and are ignored.
func Punch(conn *net.UDPConn, targets []netip.AddrPort, count int) int {
	sent := 0
	for _, target := range targets {
		for i := 0; i < count; i++ {
			if _, err := conn.WriteToUDPAddrPort(punchPayload, target); err == nil {
				sent++
			}
		}
	}
	return sent
}

type accepted struct {
	conn   *quic.Conn
	stream *quic.Stream
}

// Establish punches toward the full address by port cross-product of the
// offer, then listens on the same socket. Every handshake must present the
// pinned initiator certificate; the first failure tears the listener down
// with ErrInvalidPeerIdentity. If several of the initiator's racing
// attempts complete, the connection that opens the first stream is kept
// and the others are closed.
func (l *Listener) Establish(ctx context.Context) (transfer.Conn, error) {
	if !l.port.Take() {
		return nil, fmt.Errorf("listen port %d already taken", l.port.Port())
	}
	conn := l.port.Conn()

	targets := l.peer.Targets()
	sent := Punch(conn, targets, l.punchCount)
	l.logger.Debug("punched", "targets", len(targets), "datagrams", sent)

	authFailed := make(chan error, 1)
	tlsConf := quictransport.ServerConfig(l.id, l.peer.Fingerprint, func(err error) {
		select {
		case authFailed <- err:
		default:
		}
	})

	tr := &quic.Transport{Conn: conn}
	ln, err := quictransport.Listen(tr, tlsConf, quictransport.DefaultQUICConfig(), l.logger)
	if err != nil {
		tr.Close()
		l.port.Close()
		return nil, err
	}

	acceptCtx, cancel := context.WithTimeout(ctx, l.acceptTimeout)
	defer cancel()

	won := make(chan accepted, 1)
	var claimed atomic.Bool
	acceptErr := make(chan error, 1)
	go func() {
		for {
			c, err := ln.Accept(acceptCtx)
			if err != nil {
				acceptErr <- err
				return
			}
			l.logger.Debug("handshake completed", "remote", c.RemoteAddr())
			go l.awaitFirstStream(acceptCtx, c, &claimed, won)
		}
	}()

	fail := func(err error) (transfer.Conn, error) {
		cancel()
		ln.Close()
		tr.Close()
		l.port.Close()
		return nil, err
	}

	select {
	case a := <-won:
		cancel()
		ln.Close()
		l.logger.Info("peer connected", "remote", a.conn.RemoteAddr())
		return transferquic.NewConnWithStream(a.conn, a.stream, l.logger, tr, l.port), nil
	case err := <-authFailed:
		l.logger.Warn("rejected peer with unexpected identity", "error", err)
		return fail(fmt.Errorf("%w: %v", ErrInvalidPeerIdentity, err))
	case err := <-acceptErr:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(fmt.Errorf("%w: no peer connected within %s", ErrNoRoute, l.acceptTimeout))
		}
		return fail(fmt.Errorf("accept failed: %w", err))
	}
}

func (l *Listener) awaitFirstStream(ctx context.Context, c *quic.Conn, claimed *atomic.Bool, won chan<- accepted) {
	s, err := c.AcceptStream(ctx)
	if err != nil {
		c.CloseWithError(quictransport.CodeSessionClosed, "not selected")
		return
	}
	if claimed.CompareAndSwap(false, true) {
		won <- accepted{conn: c, stream: s}
		return
	}
	s.CancelRead(quictransport.CodeStreamReset)
	c.CloseWithError(quictransport.CodeSessionClosed, "duplicate connection")
}
