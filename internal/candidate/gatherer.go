// Package candidate gathers the addresses and reserved ports a peer
// advertises, and encodes the offer and answer exchanged out of band.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/sheerbytes/quicshare/internal/identity"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/transport"
)

// DefaultPoolSize is the minimum number of ports the initiator reserves.
const DefaultPoolSize = 5

// Config controls gathering.
type Config struct {
	// PoolSize is the minimum number of initiator ports. The pool grows to
	// one port per local address when there are more addresses.
	PoolSize int
	// AllowLoopback keeps loopback addresses, for single-host testing.
	AllowLoopback bool
	// LocalAddrs overrides interface enumeration.
	LocalAddrs func() ([]netip.Addr, error)
}

// Gatherer builds one side's candidate set and holds its reserved ports
// until they are handed to the connection attempt or released.
type Gatherer struct {
	cfg      Config
	resolver Resolver
	logger   *slog.Logger
	policy   addrPolicy

	mu          sync.Mutex
	reserved    []*ReservedPort
	fingerprint string
	peerOffer   *Offer
}

// NewGatherer returns a gatherer. resolver may be nil to skip reflexive
// discovery entirely.
func NewGatherer(cfg Config, resolver Resolver, logger *slog.Logger) *Gatherer {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return &Gatherer{
		cfg:      cfg,
		resolver: resolver,
		logger:   logging.OrDiscard(logger),
		policy:   addrPolicy{allowLoopback: cfg.AllowLoopback},
	}
}

type probeResult struct {
	port      *ReservedPort
	reflexive netip.AddrPort
}

// GatherOfferCandidates reserves the initiator's port pool, queries the
// reflexive address of every port concurrently and returns the offer JSON.
// A failed query only means that port contributes no public mapping.
func (g *Gatherer) GatherOfferCandidates(ctx context.Context, fingerprint string) (string, error) {
	addrs := g.localAddrs()
	pool := max(g.cfg.PoolSize, len(addrs))

	results := make([]probeResult, pool)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.probe(ctx, 0)
		}(i)
	}
	wg.Wait()

	offer := Offer{Addrs: addrs, Fingerprint: fingerprint}
	var reserved []*ReservedPort
	for _, r := range results {
		if r.port == nil {
			continue
		}
		reserved = append(reserved, r.port)
		offer.Ports = append(offer.Ports, uint16(r.port.Port()))
		if r.reflexive.IsValid() {
			offer.Addrs = append(offer.Addrs, r.reflexive.Addr())
			offer.Ports = append(offer.Ports, r.reflexive.Port())
		}
	}

	g.mu.Lock()
	g.reserved = append(g.reserved, reserved...)
	g.fingerprint = fingerprint
	g.mu.Unlock()

	if len(reserved) == 0 {
		return "", errors.New("failed to reserve any udp port")
	}

	data, err := buildOffer(offer, g.policy)
	if err != nil {
		return "", err
	}
	g.logger.Info("gathered offer candidates", "ports", len(reserved), "addrs", len(offer.Addrs))
	return data, nil
}

// GatherAnswerCandidates parses the peer's offer, reserves exactly one
// port (fixedPort when useFixedPort is set) and returns the answer JSON
// pairing every local address with that port, plus the reflexive mapping.
func (g *Gatherer) GatherAnswerCandidates(ctx context.Context, offerJSON, ownFingerprint string, useFixedPort bool, fixedPort int) (string, error) {
	offer, err := parseOffer(offerJSON, g.policy)
	if err != nil {
		return "", err
	}

	port := 0
	if useFixedPort {
		port = fixedPort
	}
	res := g.probe(ctx, port)
	if res.port == nil {
		return "", fmt.Errorf("failed to reserve answer port %d", port)
	}

	g.mu.Lock()
	g.reserved = append(g.reserved, res.port)
	g.fingerprint = ownFingerprint
	g.peerOffer = &offer
	g.mu.Unlock()

	answer := Answer{Fingerprint: ownFingerprint, PeerFingerprint: offer.Fingerprint}
	for _, addr := range g.localAddrs() {
		answer.Endpoints = append(answer.Endpoints, netip.AddrPortFrom(addr, uint16(res.port.Port())))
	}
	if res.reflexive.IsValid() {
		answer.Endpoints = append(answer.Endpoints, res.reflexive)
	}

	data, err := buildAnswer(answer, g.policy)
	if err != nil {
		return "", err
	}
	g.logger.Info("gathered answer candidates", "port", res.port.Port(), "candidates", len(answer.Endpoints))
	return data, nil
}

// ReconcileAnswer parses the responder's answer and checks that it echoes
// the fingerprint this gatherer offered.
func (g *Gatherer) ReconcileAnswer(answerJSON string) (Answer, error) {
	answer, err := parseAnswer(answerJSON, g.policy)
	if err != nil {
		return Answer{}, err
	}

	g.mu.Lock()
	own := g.fingerprint
	g.mu.Unlock()
	if own != "" && !identity.Match(answer.PeerFingerprint, own) {
		return Answer{}, fmt.Errorf("%w: answer confirms a different initiator identity", ErrInvalidPayload)
	}
	if len(answer.Endpoints) == 0 {
		g.logger.Warn("answer carries no usable candidates")
	}
	return answer, nil
}

// Reserved returns the ports reserved so far, in reservation order.
func (g *Gatherer) Reserved() []*ReservedPort {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*ReservedPort(nil), g.reserved...)
}

// PeerOffer returns the offer parsed by GatherAnswerCandidates.
func (g *Gatherer) PeerOffer() (Offer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.peerOffer == nil {
		return Offer{}, false
	}
	return *g.peerOffer, true
}

// Release closes every reserved port that was not taken by a connection
// attempt. Taken ports are closed by their new owner.
func (g *Gatherer) Release() {
	g.mu.Lock()
	reserved := g.reserved
	g.reserved = nil
	g.mu.Unlock()

	for _, p := range reserved {
		if p.Taken() {
			continue
		}
		if err := p.Close(); err != nil {
			g.logger.Debug("failed to release port", "port", p.Port(), "error", err)
		}
	}
}

func (g *Gatherer) probe(ctx context.Context, port int) probeResult {
	rp, err := Reserve(port)
	if err != nil {
		g.logger.Warn("port reservation failed", "port", port, "error", err)
		return probeResult{}
	}
	if tune := rp.Tuning(); tune.Status != transport.StatusOK {
		g.logger.Debug("udp buffer tuning incomplete", "port", rp.Port(),
			"requested", tune.Requested, "status", tune.Status, "error", tune.Err)
	}
	res := probeResult{port: rp}
	if g.resolver == nil {
		return res
	}
	mapped, err := g.resolver.Resolve(ctx, rp.Conn())
	if err != nil {
		g.logger.Debug("reflexive query failed", "port", rp.Port(), "error", err)
		return res
	}
	res.reflexive = mapped
	return res
}

func (g *Gatherer) localAddrs() []netip.Addr {
	var (
		addrs []netip.Addr
		err   error
	)
	if g.cfg.LocalAddrs != nil {
		addrs, err = g.cfg.LocalAddrs()
	} else {
		addrs, err = localAddrs(g.policy)
	}
	if err != nil {
		g.logger.Warn("failed to list local addresses", "error", err)
		return nil
	}
	return dedupeAddrs(addrs, g.policy)
}
