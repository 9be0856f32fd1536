package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream role headers, written as the first byte of every opened stream.
const (
	HeaderControl  = byte(0x01)
	HeaderTransfer = byte(0x02)
)

// MaxFrameLength bounds a single control frame payload.
const MaxFrameLength = 1 << 20

var (
	// ErrInvalidFrameLength is returned for a negative or oversized frame length.
	ErrInvalidFrameLength = errors.New("invalid control frame length")
	// ErrUnknownStream is returned for a stream whose header byte is not a known role.
	ErrUnknownStream = errors.New("unknown stream header")
)

// WriteStreamHeader marks s with its role.
func WriteStreamHeader(s io.Writer, header byte) error {
	return writeFull(s, []byte{header}, "stream header")
}

// ReadStreamHeader reads and validates the role byte of a fresh stream.
func ReadStreamHeader(s io.Reader) (byte, error) {
	var buf [1]byte
	if err := readFull(s, buf[:], "stream header"); err != nil {
		return 0, err
	}
	switch buf[0] {
	case HeaderControl, HeaderTransfer:
		return buf[0], nil
	default:
		return buf[0], fmt.Errorf("%w: 0x%02x", ErrUnknownStream, buf[0])
	}
}

// WriteFrame writes one length-prefixed frame. An empty payload produces a
// zero-length keep-alive frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d", ErrInvalidFrameLength, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return writeFull(w, buf, "control frame")
}

// ReadFrame reads one length-prefixed frame. A zero-length frame returns an
// empty, non-nil payload. io.EOF is returned unwrapped when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("control stream read frame length: %w", err)
	}

	size := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if size < 0 || size > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameLength, size)
	}

	payload := make([]byte, size)
	if size > 0 {
		if err := readFull(r, payload, "control frame payload"); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func readFull(r io.Reader, buf []byte, op string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("stream read %s: %w", op, err)
	}
	return nil
}

func writeFull(w io.Writer, buf []byte, op string) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return fmt.Errorf("stream write %s: %w", op, err)
		}
		written += n
	}
	return nil
}
