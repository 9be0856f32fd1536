package peer

import (
	"fmt"
	"strings"
)

// Control message vocabulary. Each message travels in one frame.
const (
	msgMetadata     = "METADATA"
	msgReady        = "READY"
	msgRejected     = "REJECTED"
	msgFileSent     = "FILE_SENT"
	msgReceivedFile = "RECEIVED_FILE"
)

// Rejection reasons carried by REJECTED.
const (
	reasonUnwanted         = "UNWANTED"
	reasonAlreadySending   = "ALREADY_SENDING"
	reasonAlreadyReceiving = "ALREADY_RECEIVING"
)

// Verification results carried by RECEIVED_FILE.
const (
	resultOK     = "OK"
	resultFailed = "FAILED"
)

type message struct {
	kind string
	arg  string
}

func (m message) String() string {
	if m.kind == msgReady {
		return msgReady
	}
	return m.kind + ":" + m.arg
}

func parseMessage(text string) (message, error) {
	if text == msgReady {
		return message{kind: msgReady}, nil
	}
	kind, arg, ok := strings.Cut(text, ":")
	if !ok {
		return message{}, fmt.Errorf("malformed control message %q", truncate(text))
	}
	switch kind {
	case msgMetadata, msgFileSent:
	case msgRejected:
		switch arg {
		case reasonUnwanted, reasonAlreadySending, reasonAlreadyReceiving:
		default:
			return message{}, fmt.Errorf("unknown rejection reason %q", truncate(arg))
		}
	case msgReceivedFile:
		if arg != resultOK && arg != resultFailed {
			return message{}, fmt.Errorf("unknown verification result %q", truncate(arg))
		}
	default:
		return message{}, fmt.Errorf("unknown control message %q", truncate(kind))
	}
	return message{kind: kind, arg: arg}, nil
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
