package transferquic

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/quicshare/internal/identity"
	"github.com/sheerbytes/quicshare/internal/quictransport"
	"github.com/sheerbytes/quicshare/internal/transfer"
)

func TestQUICStreamInterfaceCompliance(t *testing.T) {
	var _ transfer.Stream = (*QUICStream)(nil)
	var _ io.Reader = (*QUICStream)(nil)
	var _ io.Writer = (*QUICStream)(nil)
}

func TestQUICConnInterfaceCompliance(t *testing.T) {
	var _ transfer.Conn = (*QUICConn)(nil)
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	if !errors.Is(classify(io.EOF), io.EOF) {
		t.Fatal("EOF must pass through")
	}

	remote := &quic.ApplicationError{Remote: true, ErrorCode: quictransport.CodeSessionClosed}
	if !errors.Is(classify(remote), transfer.ErrPeerClosed) {
		t.Fatal("remote application close must classify as peer closed")
	}

	local := &quic.ApplicationError{Remote: false}
	if errors.Is(classify(local), transfer.ErrPeerClosed) {
		t.Fatal("local close is not a peer close")
	}

	var netErr net.Error
	if !errors.As(classify(&quic.IdleTimeoutError{}), &netErr) || !netErr.Timeout() {
		t.Fatal("idle timeout must remain a timeout")
	}
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return conn
}

func TestQUICConnRoundTripAndClose(t *testing.T) {
	serverID, err := identity.New()
	if err != nil {
		t.Fatal(err)
	}
	clientID, err := identity.New()
	if err != nil {
		t.Fatal(err)
	}

	serverUDP := listenUDP(t)
	clientUDP := listenUDP(t)
	serverTr := &quic.Transport{Conn: serverUDP}
	clientTr := &quic.Transport{Conn: clientUDP}

	ln, err := quictransport.Listen(serverTr, quictransport.ServerConfig(serverID, clientID.Fingerprint(), nil), nil, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acceptCh := make(chan *quic.Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
			acceptCh <- nil
			return
		}
		acceptCh <- c
	}()

	raw, err := quictransport.Dial(ctx, clientTr, serverUDP.LocalAddr(), quictransport.ClientConfig(clientID, serverID.Fingerprint()), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewConn(raw, nil, clientTr, clientUDP)

	serverRaw := <-acceptCh
	if serverRaw == nil {
		t.FailNow()
	}
	server := NewConn(serverRaw, nil, serverTr, serverUDP)
	defer server.Close()

	cs, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := transfer.WriteStreamHeader(cs, transfer.HeaderControl); err != nil {
		t.Fatalf("write header: %v", err)
	}
	ss, err := server.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("accept stream: %v", err)
	}
	h, err := transfer.ReadStreamHeader(ss)
	if err != nil || h != transfer.HeaderControl {
		t.Fatalf("unexpected header %x: %v", h, err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}

	_, err = ss.Read(make([]byte, 1))
	if !errors.Is(err, transfer.ErrPeerClosed) {
		t.Fatalf("expected peer closed after remote close, got %v", err)
	}
}
