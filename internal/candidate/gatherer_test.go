package candidate

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/transport"
)

// fakeResolver maps every other port to a public address.
type fakeResolver struct {
	public netip.Addr
}

func (r fakeResolver) Resolve(_ context.Context, conn *net.UDPConn) (netip.AddrPort, error) {
	port := conn.LocalAddr().(*net.UDPAddr).Port
	if port%2 == 1 {
		return netip.AddrPort{}, errors.New("no answer")
	}
	return netip.AddrPortFrom(r.public, uint16(port+1)), nil
}

func fixedAddrs(ss ...string) func() ([]netip.Addr, error) {
	return func() ([]netip.Addr, error) { return addrs(ss...), nil }
}

func TestGatherOfferCandidates(t *testing.T) {
	g := NewGatherer(Config{LocalAddrs: fixedAddrs("10.0.0.5", "10.0.0.5", "127.0.0.1")},
		fakeResolver{public: netip.MustParseAddr("203.0.113.7")}, nil)
	defer g.Release()

	data, err := g.GatherOfferCandidates(context.Background(), "FP")
	require.NoError(t, err)

	offer, err := ParseOffer(data)
	require.NoError(t, err)
	reserved := g.Reserved()
	require.Len(t, reserved, DefaultPoolSize)

	wantPorts := map[uint16]struct{}{}
	wantPublic := false
	for _, p := range reserved {
		wantPorts[uint16(p.Port())] = struct{}{}
		if p.Port()%2 == 0 {
			wantPorts[uint16(p.Port()+1)] = struct{}{}
			wantPublic = true
		}
	}
	assert.Len(t, offer.Ports, len(wantPorts))
	for _, port := range offer.Ports {
		assert.Contains(t, wantPorts, port)
	}

	assert.Contains(t, offer.Addrs, netip.MustParseAddr("10.0.0.5"))
	assert.NotContains(t, offer.Addrs, netip.MustParseAddr("127.0.0.1"))
	if wantPublic {
		assert.Contains(t, offer.Addrs, netip.MustParseAddr("203.0.113.7"))
	}
}

func TestGatherOfferPoolGrowsWithAddresses(t *testing.T) {
	g := NewGatherer(Config{
		PoolSize:   2,
		LocalAddrs: fixedAddrs("10.0.0.1", "10.0.0.2", "10.0.0.3"),
	}, nil, nil)
	defer g.Release()

	_, err := g.GatherOfferCandidates(context.Background(), "FP")
	require.NoError(t, err)
	assert.Len(t, g.Reserved(), 3)
}

func TestGatherAnswerCandidates(t *testing.T) {
	offerJSON, err := BuildOffer(Offer{Addrs: addrs("198.51.100.9"), Ports: []uint16{4000}, Fingerprint: "CLIENT"})
	require.NoError(t, err)

	g := NewGatherer(Config{LocalAddrs: fixedAddrs("10.0.0.5", "192.168.0.2")}, nil, nil)
	defer g.Release()

	answerJSON, err := g.GatherAnswerCandidates(context.Background(), offerJSON, "SERVER", false, 0)
	require.NoError(t, err)

	reserved := g.Reserved()
	require.Len(t, reserved, 1)
	port := uint16(reserved[0].Port())

	answer, err := ParseAnswer(answerJSON)
	require.NoError(t, err)
	assert.Equal(t, "CLIENT", answer.PeerFingerprint)
	assert.Equal(t, []netip.AddrPort{
		netip.AddrPortFrom(netip.MustParseAddr("10.0.0.5"), port),
		netip.AddrPortFrom(netip.MustParseAddr("192.168.0.2"), port),
	}, answer.Endpoints)

	peer, ok := g.PeerOffer()
	require.True(t, ok)
	assert.Equal(t, "CLIENT", peer.Fingerprint)
}

func TestGatherAnswerRejectsBadOffer(t *testing.T) {
	g := NewGatherer(Config{}, nil, nil)
	defer g.Release()
	_, err := g.GatherAnswerCandidates(context.Background(), "{", "SERVER", false, 0)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Empty(t, g.Reserved())
}

func TestReconcileAnswerChecksEcho(t *testing.T) {
	g := NewGatherer(Config{LocalAddrs: fixedAddrs("10.0.0.5")}, nil, nil)
	defer g.Release()
	_, err := g.GatherOfferCandidates(context.Background(), "ABCD")
	require.NoError(t, err)

	good := `{"Candidates":["10.0.0.9:5000"],"ServerThumbprint":"S","ClientThumbprint":"abcd"}`
	answer, err := g.ReconcileAnswer(good)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("10.0.0.9:5000")}, answer.Endpoints)

	bad := `{"Candidates":["10.0.0.9:5000"],"ServerThumbprint":"S","ClientThumbprint":"OTHER"}`
	_, err = g.ReconcileAnswer(bad)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestReleaseSkipsTakenPorts(t *testing.T) {
	g := NewGatherer(Config{PoolSize: 2, LocalAddrs: fixedAddrs()}, nil, nil)
	_, err := g.GatherOfferCandidates(context.Background(), "FP")
	require.NoError(t, err)

	reserved := g.Reserved()
	require.Len(t, reserved, 2)
	require.True(t, reserved[0].Take())

	g.Release()

	_, err = reserved[0].Conn().WriteToUDP([]byte{1}, reserved[0].Conn().LocalAddr().(*net.UDPAddr))
	assert.NoError(t, err, "taken port must stay open")
	_, err = reserved[1].Conn().WriteToUDP([]byte{1}, reserved[1].Conn().LocalAddr().(*net.UDPAddr))
	assert.ErrorIs(t, err, net.ErrClosed)

	require.NoError(t, reserved[0].Close())
	assert.NoError(t, reserved[0].Close(), "second close is a no-op")
}

func TestReservedPortTakeOnce(t *testing.T) {
	p, err := Reserve(0)
	require.NoError(t, err)
	defer p.Close()

	assert.NotZero(t, p.Port())
	assert.True(t, p.Take())
	assert.False(t, p.Take())
	assert.True(t, p.Taken())
}

func TestReservedPortTuningIsLogged(t *testing.T) {
	offerJSON, err := BuildOffer(Offer{Addrs: addrs("198.51.100.9"), Ports: []uint16{4000}, Fingerprint: "CLIENT"})
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := logging.NewWithWriter(&logs, "quicshare", "debug")
	g := NewGatherer(Config{LocalAddrs: fixedAddrs("10.0.0.5")}, nil, logger)
	defer g.Release()

	_, err = g.GatherAnswerCandidates(context.Background(), offerJSON, "SERVER", false, 0)
	require.NoError(t, err)

	reserved := g.Reserved()
	require.Len(t, reserved, 1)
	tune := reserved[0].Tuning()
	assert.Equal(t, transport.DefaultUDPBuffer, tune.Requested)
	assert.Contains(t, []string{transport.StatusOK, transport.StatusDenied, transport.StatusNA}, tune.Status)

	if tune.Status == transport.StatusOK {
		assert.NotContains(t, logs.String(), "udp buffer tuning incomplete")
	} else {
		assert.Contains(t, logs.String(), "udp buffer tuning incomplete")
		assert.Contains(t, logs.String(), "status="+tune.Status)
	}
}
