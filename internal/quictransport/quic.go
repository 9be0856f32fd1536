// Package quictransport builds the TLS and QUIC settings shared by both
// peers and wraps dialing and listening on a caller-owned UDP socket.
package quictransport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/quicshare/internal/identity"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/transport"
)

const (
	// ALPNProtocol is negotiated by every peer connection.
	ALPNProtocol = "fileShare"

	IdleTimeout     = 30 * time.Second
	KeepAlivePeriod = 2 * time.Second
)

// Application close codes.
const (
	CodeSessionClosed quic.ApplicationErrorCode = 0x0B
	CodeStreamReset   quic.StreamErrorCode      = 0x0A
)

// ServerConfig returns the responder TLS config. The initiator must present
// a client certificate whose fingerprint equals peerFingerprint. onReject
// observes failed pin checks.
func ServerConfig(id *identity.Identity, peerFingerprint string, onReject func(error)) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{id.Certificate},
		NextProtos:            []string{ALPNProtocol},
		MinVersion:            tls.VersionTLS13,
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: identity.VerifyPinned(peerFingerprint, onReject),
	}
}

// ClientConfig returns the initiator TLS config. Chain verification is off;
// the pinned fingerprint is the only trust decision.
func ClientConfig(id *identity.Identity, peerFingerprint string) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{id.Certificate},
		NextProtos:            []string{ALPNProtocol},
		MinVersion:            tls.VersionTLS13,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: identity.VerifyPinned(peerFingerprint, nil),
	}
}

// DefaultQUICConfig returns the QUIC config used on both sides.
func DefaultQUICConfig() *quic.Config {
	return transport.BuildQuicConfig(&quic.Config{
		KeepAlivePeriod:         KeepAlivePeriod,
		MaxIdleTimeout:          IdleTimeout,
		HandshakeIdleTimeout:    5 * time.Second,
		DisablePathMTUDiscovery: true,
	}, transport.DefaultConnWindow, transport.DefaultStreamWindow, 4)
}

// Listen starts a QUIC listener on tr.
func Listen(tr *quic.Transport, tlsConf *tls.Config, config *quic.Config, logger *slog.Logger) (*quic.Listener, error) {
	logger = logging.OrDiscard(logger)
	if config == nil {
		config = DefaultQUICConfig()
	}

	listener, err := tr.Listen(tlsConf, config)
	if err != nil {
		logger.Error("QUIC listen failed", "error", err, "local_addr", tr.Conn.LocalAddr())
		return nil, err
	}

	logger.Debug("QUIC listener created", "local_addr", tr.Conn.LocalAddr())
	return listener, nil
}

// Dial connects to remoteAddr from tr.
func Dial(ctx context.Context, tr *quic.Transport, remoteAddr net.Addr, tlsConf *tls.Config, config *quic.Config, logger *slog.Logger) (*quic.Conn, error) {
	logger = logging.OrDiscard(logger)
	if config == nil {
		config = DefaultQUICConfig()
	}

	logger.Debug("QUIC dial starting", "remote_addr", remoteAddr, "local_addr", tr.Conn.LocalAddr())

	conn, err := tr.Dial(ctx, remoteAddr, tlsConf, config)
	if err != nil {
		logger.Debug("QUIC dial failed", "error", err, "remote_addr", remoteAddr)
		return nil, err
	}

	logger.Info("QUIC connection established", "remote_addr", remoteAddr)
	return conn, nil
}
