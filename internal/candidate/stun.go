package candidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/sheerbytes/quicshare/internal/logging"
)

// DefaultStunServers is the STUN list used when no servers are configured.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

const defaultStunTimeout = 800 * time.Millisecond

// ErrNoReflexiveAddress is returned when no STUN server answered.
var ErrNoReflexiveAddress = errors.New("no reflexive address discovered")

// Resolver discovers the public mapping of a local UDP socket.
type Resolver interface {
	Resolve(ctx context.Context, conn *net.UDPConn) (netip.AddrPort, error)
}

// StunResolver queries STUN servers directly over the caller's socket, so
// the mapping it observes is the one the later connection will use.
type StunResolver struct {
	Servers []string
	// Timeout bounds each server exchange.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewStunResolver returns a resolver for servers, or the defaults.
func NewStunResolver(servers []string, logger *slog.Logger) *StunResolver {
	if len(servers) == 0 {
		servers = DefaultStunServers
	}
	return &StunResolver{
		Servers: servers,
		Timeout: defaultStunTimeout,
		Logger:  logging.OrDiscard(logger),
	}
}

// Resolve sends a binding request to each server in turn and returns the
// first mapped address. The read deadline of conn is cleared on return.
func (r *StunResolver) Resolve(ctx context.Context, conn *net.UDPConn) (netip.AddrPort, error) {
	logger := logging.OrDiscard(r.Logger)
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultStunTimeout
	}
	defer conn.SetReadDeadline(time.Time{})

	for _, server := range r.Servers {
		if err := ctx.Err(); err != nil {
			return netip.AddrPort{}, err
		}

		serverAddrs, err := resolveStunAddrs(ctx, strings.TrimPrefix(server, "stun:"))
		if err != nil {
			logger.Debug("invalid STUN server", "server", server, "error", err)
			continue
		}

		for _, serverAddr := range serverAddrs {
			mapped, err := r.query(ctx, conn, serverAddr, timeout)
			if err != nil {
				logger.Debug("STUN query failed", "server", serverAddr, "error", err)
				continue
			}
			logger.Debug("public address resolved", "addr", mapped, "local", conn.LocalAddr())
			return mapped, nil
		}
	}
	return netip.AddrPort{}, ErrNoReflexiveAddress
}

func (r *StunResolver) query(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr, timeout time.Duration) (netip.AddrPort, error) {
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(msg.Raw, server); err != nil {
		return netip.AddrPort{}, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return netip.AddrPort{}, err
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != msg.TransactionID {
			continue
		}

		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res); err == nil {
			return toAddrPort(xorAddr.IP, xorAddr.Port)
		}
		var mappedAddr stun.MappedAddress
		if err := mappedAddr.GetFrom(res); err == nil {
			return toAddrPort(mappedAddr.IP, mappedAddr.Port)
		}
		return netip.AddrPort{}, fmt.Errorf("STUN response from %s has no mapped address", server)
	}
}

func toAddrPort(ip net.IP, port int) (netip.AddrPort, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok || port <= 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("invalid mapped address %s:%d", ip, port)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

func resolveStunAddrs(ctx context.Context, addrStr string) ([]*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(addrStr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPs for %s", host)
	}
	addrs := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.UDPAddr{IP: ip.IP, Port: port})
	}
	return addrs, nil
}
