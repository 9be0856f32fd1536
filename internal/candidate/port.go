package candidate

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sheerbytes/quicshare/internal/transport"
)

// ReservedPort is a bound, idle UDP socket held open to keep a NAT mapping
// alive until a connection attempt takes it over. The same socket carries
// the attempt, so there is no window in which the port is unbound.
type ReservedPort struct {
	conn      *net.UDPConn
	port      int
	tuning    transport.UDPTuneResult
	taken     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Reserve binds a UDP socket on port (0 for OS-assigned) on all addresses,
// preferring dual-stack and falling back to IPv4.
func Reserve(port int) (*ReservedPort, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve udp port %d: %w", port, err)
	}
	return newReservedPort(conn), nil
}

func newReservedPort(conn *net.UDPConn) *ReservedPort {
	return &ReservedPort{
		conn:   conn,
		port:   conn.LocalAddr().(*net.UDPAddr).Port,
		tuning: transport.TuneUDPConn(conn, transport.DefaultUDPBuffer),
	}
}

// Port returns the bound local port number.
func (p *ReservedPort) Port() int {
	return p.port
}

// Tuning returns the outcome of enlarging the socket buffers.
func (p *ReservedPort) Tuning() transport.UDPTuneResult {
	return p.tuning
}

// Conn returns the socket without transferring ownership.
func (p *ReservedPort) Conn() *net.UDPConn {
	return p.conn
}

// Take transfers ownership of the socket to the caller, who must Close
// the ReservedPort once the connection attempt is over. It returns false
// if the port was already taken.
func (p *ReservedPort) Take() bool {
	return p.taken.CompareAndSwap(false, true)
}

// Taken reports whether ownership has been transferred.
func (p *ReservedPort) Taken() bool {
	return p.taken.Load()
}

// Close closes the socket. Only the first call has any effect.
func (p *ReservedPort) Close() error {
	p.closeOnce.Do(func() {
		err := p.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			p.closeErr = err
		}
	})
	return p.closeErr
}
