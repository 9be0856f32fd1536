// Package connect turns exchanged candidates into the single authenticated
// connection between two peers. The initiator races one attempt per
// candidate; the responder punches toward the initiator and listens.
package connect

import (
	"context"
	"errors"
	"time"

	"github.com/sheerbytes/quicshare/internal/transfer"
)

const (
	DefaultRaceTimeout   = 10 * time.Second
	DefaultAcceptTimeout = 30 * time.Second
	DefaultPunchCount    = 3
)

var (
	// ErrNoRoute is returned when no candidate produced a connection in time.
	ErrNoRoute = errors.New("no route to peer")
	// ErrInvalidPeerIdentity is returned when the connecting peer presented
	// a certificate other than the pinned one.
	ErrInvalidPeerIdentity = errors.New("peer presented invalid identity")
)

// Establisher produces the session connection for one peer role.
type Establisher interface {
	Establish(ctx context.Context) (transfer.Conn, error)
}
