package connect

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
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

// DialFunc makes one connection attempt from port to remote. It owns port
// and must close it unless it returns a connection that owns it instead.
type DialFunc func(ctx context.Context, port *candidate.ReservedPort, remote netip.AddrPort) (transfer.Conn, error)

// Racer is the initiator's Establisher.
type Racer struct {
	candidates []netip.AddrPort
	ports      []*candidate.ReservedPort
	timeout    time.Duration
	dial       DialFunc
	logger     *slog.Logger
}

// RacerOption customizes a Racer.
type RacerOption func(*Racer)

// WithRaceTimeout overrides the shared race deadline.
func WithRaceTimeout(d time.Duration) RacerOption {
	return func(r *Racer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDialFunc replaces the QUIC dialer.
func WithDialFunc(dial DialFunc) RacerOption {
	return func(r *Racer) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// NewRacer pairs each answer candidate with one reserved port and dials
// with id, pinning the responder fingerprint from the answer.
func NewRacer(id *identity.Identity, answer candidate.Answer, ports []*candidate.ReservedPort, logger *slog.Logger, opts ...RacerOption) *Racer {
	logger = logging.OrDiscard(logger)
	r := &Racer{
		candidates: answer.Endpoints,
		ports:      ports,
		timeout:    DefaultRaceTimeout,
		logger:     logger,
	}
	r.dial = QUICDialer(id, answer.Fingerprint, logger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Establish launches every attempt at once and returns the first
// connection. Exactly one attempt can claim the result; the rest are
// cancelled and any connection that completes late is closed. All
// attempts have exited when Establish returns.
func (r *Racer) Establish(ctx context.Context) (transfer.Conn, error) {
	n := min(len(r.candidates), len(r.ports))
	if len(r.candidates) > n {
		r.logger.Warn("more candidates than reserved ports, skipping the rest",
			"candidates", len(r.candidates), "ports", len(r.ports))
	}
	if n == 0 {
		return nil, ErrNoRoute
	}

	raceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		claimed atomic.Bool
		winner  transfer.Conn
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		port, remote := r.ports[i], r.candidates[i]
		if !port.Take() {
			r.logger.Debug("reserved port already taken", "port", port.Port())
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := r.dial(raceCtx, port, remote)
			if err != nil {
				r.logger.Debug("race attempt failed", "remote", remote, "local_port", port.Port(), "error", err)
				return
			}
			if claimed.CompareAndSwap(false, true) {
				winner = conn
				r.logger.Info("race won", "remote", remote, "local_port", port.Port())
				cancel()
				return
			}
			r.logger.Debug("discarding late connection", "remote", remote)
			conn.Close()
		}()
	}
	wg.Wait()

	if winner != nil {
		return winner, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %d candidates failed within %s", ErrNoRoute, n, r.timeout)
}

// QUICDialer dials QUIC on the reserved socket itself. On success the
// returned connection owns the transport and the port.
func QUICDialer(id *identity.Identity, peerFingerprint string, logger *slog.Logger) DialFunc {
	tlsConf := quictransport.ClientConfig(id, peerFingerprint)
	quicConf := quictransport.DefaultQUICConfig()
	return func(ctx context.Context, port *candidate.ReservedPort, remote netip.AddrPort) (transfer.Conn, error) {
		tr := &quic.Transport{Conn: port.Conn()}
		raw, err := quictransport.Dial(ctx, tr, net.UDPAddrFromAddrPort(remote), tlsConf, quicConf, logger)
		if err != nil {
			tr.Close()
			port.Close()
			return nil, err
		}
		return transferquic.NewConn(raw, logger, tr, port), nil
	}
}
