// Package transport tunes the UDP sockets and QUIC windows used for peer
// connections. Every knob is best effort: the kernel or the platform may
// refuse a setting, and callers only log the result.
package transport

import (
	"net"
	"strings"

	"github.com/quic-go/quic-go"
)

const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusNA     = "n/a"
)

const (
	// DefaultUDPBuffer is requested on every reserved port.
	DefaultUDPBuffer = 7 * 1024 * 1024

	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024
)

const (
	DefaultConnWindow   = 64 * 1024 * 1024
	DefaultStreamWindow = 16 * 1024 * 1024

	defaultInitialConnWindow = 2 * 1024 * 1024
	minQuicConnWindow        = 1 * 1024 * 1024
	maxQuicConnWindow        = 1024 * 1024 * 1024
	minQuicStreamWindow      = 1 * 1024 * 1024
	maxQuicStreamWindow      = 256 * 1024 * 1024
	minQuicMaxStreams        = 2
	maxQuicMaxStreams        = 64
)

// UDPTuneResult reports what was asked of a socket and what it accepted.
type UDPTuneResult struct {
	Requested int
	Status    string
	Err       string
}

// TuneUDPConn raises both socket buffers of conn toward size.
func TuneUDPConn(conn *net.UDPConn, size int) UDPTuneResult {
	req := clamp(size, minUDPBuffer, maxUDPBuffer)
	result := UDPTuneResult{Requested: req, Status: StatusOK}
	if conn == nil {
		result.Status = StatusNA
		result.Err = "no udp socket"
		return result
	}

	var errs []string
	if err := conn.SetReadBuffer(req); err != nil {
		errs = append(errs, "read: "+err.Error())
	}
	if err := conn.SetWriteBuffer(req); err != nil {
		errs = append(errs, "write: "+err.Error())
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

// BuildQuicConfig copies base and applies clamped flow-control windows and
// an incoming stream limit. base is never modified.
func BuildQuicConfig(base *quic.Config, connWin, streamWin, maxStreams int) *quic.Config {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}

	conn := clamp(connWin, minQuicConnWindow, maxQuicConnWindow)
	stream := clamp(streamWin, minQuicStreamWindow, maxQuicStreamWindow)
	initialConn := min(defaultInitialConnWindow, conn)

	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
	cfg.MaxIncomingStreams = int64(clamp(maxStreams, minQuicMaxStreams, maxQuicMaxStreams))
	return cfg
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
