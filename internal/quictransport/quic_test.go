package quictransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/quicshare/internal/identity"
)

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.New()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	return id
}

func mustTransport(t *testing.T) *quic.Transport {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	tr := &quic.Transport{Conn: conn}
	t.Cleanup(func() {
		tr.Close()
		conn.Close()
	})
	return tr
}

func TestConfigs(t *testing.T) {
	id := mustIdentity(t)

	server := ServerConfig(id, "AB", nil)
	if len(server.Certificates) != 1 || server.NextProtos[0] != ALPNProtocol {
		t.Fatalf("unexpected server config: %+v", server)
	}
	if server.VerifyPeerCertificate == nil {
		t.Fatal("server config must pin the peer")
	}

	client := ClientConfig(id, "AB")
	if !client.InsecureSkipVerify || client.VerifyPeerCertificate == nil {
		t.Fatal("client config must skip chain checks and pin the peer")
	}

	q := DefaultQUICConfig()
	if q.MaxIdleTimeout != IdleTimeout || q.KeepAlivePeriod != KeepAlivePeriod {
		t.Fatalf("unexpected timeouts: %v %v", q.MaxIdleTimeout, q.KeepAlivePeriod)
	}
}

func TestPinnedHandshake(t *testing.T) {
	serverID := mustIdentity(t)
	clientID := mustIdentity(t)

	serverTr := mustTransport(t)
	clientTr := mustTransport(t)

	ln, err := Listen(serverTr, ServerConfig(serverID, clientID.Fingerprint(), nil), nil, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			conn.CloseWithError(0, "")
		}
		accepted <- err
	}()

	conn, err := Dial(ctx, clientTr, serverTr.Conn.LocalAddr(), ClientConfig(clientID, serverID.Fingerprint()), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.CloseWithError(0, "")

	if err := <-accepted; err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestPinnedHandshakeRejectsWrongServer(t *testing.T) {
	serverID := mustIdentity(t)
	clientID := mustIdentity(t)
	otherID := mustIdentity(t)

	serverTr := mustTransport(t)
	clientTr := mustTransport(t)

	ln, err := Listen(serverTr, ServerConfig(serverID, clientID.Fingerprint(), nil), nil, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, clientTr, serverTr.Conn.LocalAddr(), ClientConfig(clientID, otherID.Fingerprint()), nil, nil)
	if err == nil {
		t.Fatal("expected dial to fail against an unpinned server")
	}
}
