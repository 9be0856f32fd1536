package candidate

import (
	"net"
	"net/netip"
	"strings"
)

var virtualPrefixes = []string{"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "utun", "zt", "tailscale"}

var virtualMarkers = []string{"virtual", "pseudo", "vmware", "hyper-v"}

var siteLocalV6 = netip.MustParsePrefix("fec0::/10")

// addrPolicy decides which addresses may be advertised or dialed.
type addrPolicy struct {
	allowLoopback bool
}

var strictPolicy = addrPolicy{}

func (p addrPolicy) usable(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return false
	case addr.IsLoopback():
		return p.allowLoopback
	case addr.IsUnspecified(), addr.IsMulticast():
		return false
	case addr.IsLinkLocalUnicast():
		return false
	case addr.Is6() && siteLocalV6.Contains(addr):
		return false
	}
	return true
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, marker := range virtualMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LocalAddrs lists the addresses of interfaces that are up and not virtual
// adapters, filtered to those worth advertising to a peer.
func LocalAddrs() ([]netip.Addr, error) {
	return localAddrs(strictPolicy)
}

func localAddrs(policy addrPolicy) ([]netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []netip.Addr
	seen := make(map[netip.Addr]struct{})
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 && !policy.allowLoopback {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			addr, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			if !policy.usable(addr) {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out, nil
}
