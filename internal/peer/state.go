package peer

import (
	"github.com/sheerbytes/quicshare/internal/progress"
)

// Role is the side a session plays when streams are set up.
type Role int

const (
	// RoleInitiator opens the control and transfer streams.
	RoleInitiator Role = iota
	// RoleResponder accepts and classifies them.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the state of the single transfer slot.
type State int

const (
	StateIdle State = iota
	StateOfferPending
	StateSending
	StateAwaitingConfirmation
	StateOfferReceived
	StateReceiving
	StateVerifyingHash
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferPending:
		return "offer-pending"
	case StateSending:
		return "sending"
	case StateAwaitingConfirmation:
		return "awaiting-confirmation"
	case StateOfferReceived:
		return "offer-received"
	case StateReceiving:
		return "receiving"
	case StateVerifyingHash:
		return "verifying-hash"
	default:
		return "unknown"
	}
}

// Sending reports whether the slot is in use by a local send.
func (s State) Sending() bool {
	return s == StateOfferPending || s == StateSending || s == StateAwaitingConfirmation
}

// Receiving reports whether the slot is in use by a receive.
func (s State) Receiving() bool {
	return s == StateOfferReceived || s == StateReceiving || s == StateVerifyingHash
}

// Direction of a transfer relative to this peer.
type Direction int

const (
	DirectionSend Direction = iota
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "receive"
}

// Outcome is the terminal result of one transfer.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeHashMismatch
	OutcomeRejectedUnwanted
	OutcomeRejectedAlreadySending
	OutcomeRejectedAlreadyReceiving
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeHashMismatch:
		return "hash mismatch"
	case OutcomeRejectedUnwanted:
		return "rejected: unwanted"
	case OutcomeRejectedAlreadySending:
		return "rejected: peer is already sending"
	case OutcomeRejectedAlreadyReceiving:
		return "rejected: peer is already receiving"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func outcomeForReason(reason string) Outcome {
	switch reason {
	case reasonAlreadySending:
		return OutcomeRejectedAlreadySending
	case reasonAlreadyReceiving:
		return OutcomeRejectedAlreadyReceiving
	default:
		return OutcomeRejectedUnwanted
	}
}

// Offer is a file proposed by the peer.
type Offer struct {
	FileName string
	FileSize int64
}

// Decision answers an Offer. Folder is the destination directory when
// Accept is set.
type Decision struct {
	Accept bool
	Folder string
}

// Report describes a finished transfer.
type Report struct {
	Direction Direction
	FileName  string
	FileSize  int64
	// Path is the source file when sending and the destination when receiving.
	Path    string
	Outcome Outcome
	Hash    string
	Final   progress.Sample
}
