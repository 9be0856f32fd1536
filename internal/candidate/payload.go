package candidate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidPayload is returned for offers or answers that cannot be used.
var ErrInvalidPayload = errors.New("invalid candidate payload")

type offerJSON struct {
	ClientIps        []string
	ClientPorts      []int
	ClientThumbprint string
}

type answerJSON struct {
	Candidates       []string
	ServerThumbprint string
	ClientThumbprint string
}

// Offer is the initiator's candidate set: every advertised address may be
// combined with every advertised port.
type Offer struct {
	Addrs       []netip.Addr
	Ports       []uint16
	Fingerprint string
}

// Answer is the responder's candidate set. PeerFingerprint echoes the
// initiator fingerprint the responder will pin.
type Answer struct {
	Endpoints       []netip.AddrPort
	Fingerprint     string
	PeerFingerprint string
}

// Targets returns the full address by port cross-product of the offer.
func (o Offer) Targets() []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(o.Addrs)*len(o.Ports))
	for _, addr := range o.Addrs {
		for _, port := range o.Ports {
			out = append(out, netip.AddrPortFrom(addr, port))
		}
	}
	return out
}

// BuildOffer serializes o, dropping unusable addresses and duplicates.
func BuildOffer(o Offer) (string, error) {
	return buildOffer(o, strictPolicy)
}

// ParseOffer decodes an offer. Unparsable entries are dropped; invalid
// JSON or a missing fingerprint fails the whole payload.
func ParseOffer(data string) (Offer, error) {
	return parseOffer(data, strictPolicy)
}

// BuildAnswer serializes a.
func BuildAnswer(a Answer) (string, error) {
	return buildAnswer(a, strictPolicy)
}

// ParseAnswer decodes an answer with the same dropping rules as ParseOffer.
func ParseAnswer(data string) (Answer, error) {
	return parseAnswer(data, strictPolicy)
}

func buildOffer(o Offer, policy addrPolicy) (string, error) {
	if strings.TrimSpace(o.Fingerprint) == "" {
		return "", fmt.Errorf("%w: offer without fingerprint", ErrInvalidPayload)
	}
	msg := offerJSON{
		ClientIps:        []string{},
		ClientPorts:      []int{},
		ClientThumbprint: o.Fingerprint,
	}
	for _, addr := range dedupeAddrs(o.Addrs, policy) {
		msg.ClientIps = append(msg.ClientIps, addr.String())
	}
	for _, port := range dedupePorts(o.Ports) {
		msg.ClientPorts = append(msg.ClientPorts, int(port))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal offer: %w", err)
	}
	return string(data), nil
}

func parseOffer(data string, policy addrPolicy) (Offer, error) {
	var msg offerJSON
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Offer{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(msg.ClientThumbprint) == "" {
		return Offer{}, fmt.Errorf("%w: offer without fingerprint", ErrInvalidPayload)
	}

	var addrs []netip.Addr
	for _, s := range msg.ClientIps {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	var ports []uint16
	for _, p := range msg.ClientPorts {
		if p > 0 && p <= 65535 {
			ports = append(ports, uint16(p))
		}
	}

	return Offer{
		Addrs:       dedupeAddrs(addrs, policy),
		Ports:       dedupePorts(ports),
		Fingerprint: msg.ClientThumbprint,
	}, nil
}

func buildAnswer(a Answer, policy addrPolicy) (string, error) {
	if strings.TrimSpace(a.Fingerprint) == "" {
		return "", fmt.Errorf("%w: answer without fingerprint", ErrInvalidPayload)
	}
	msg := answerJSON{
		Candidates:       []string{},
		ServerThumbprint: a.Fingerprint,
		ClientThumbprint: a.PeerFingerprint,
	}
	for _, ep := range dedupeEndpoints(a.Endpoints, policy) {
		msg.Candidates = append(msg.Candidates, ep.String())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal answer: %w", err)
	}
	return string(data), nil
}

func parseAnswer(data string, policy addrPolicy) (Answer, error) {
	var msg answerJSON
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(msg.ServerThumbprint) == "" {
		return Answer{}, fmt.Errorf("%w: answer without fingerprint", ErrInvalidPayload)
	}

	var endpoints []netip.AddrPort
	for _, s := range msg.Candidates {
		ep, err := netip.ParseAddrPort(strings.TrimSpace(s))
		if err != nil || ep.Port() == 0 {
			continue
		}
		endpoints = append(endpoints, ep)
	}

	return Answer{
		Endpoints:       dedupeEndpoints(endpoints, policy),
		Fingerprint:     msg.ServerThumbprint,
		PeerFingerprint: msg.ClientThumbprint,
	}, nil
}

func dedupeAddrs(addrs []netip.Addr, policy addrPolicy) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	seen := make(map[netip.Addr]struct{}, len(addrs))
	for _, addr := range addrs {
		addr = addr.Unmap()
		if !policy.usable(addr) {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func dedupePorts(ports []uint16) []uint16 {
	out := make([]uint16, 0, len(ports))
	seen := make(map[uint16]struct{}, len(ports))
	for _, p := range ports {
		if p == 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func dedupeEndpoints(eps []netip.AddrPort, policy addrPolicy) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(eps))
	seen := make(map[netip.AddrPort]struct{}, len(eps))
	for _, ep := range eps {
		ep = netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())
		if ep.Port() == 0 || !policy.usable(ep.Addr()) {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
