// Package protocol defines the signaling wire format shared by the peer
// and the signaling server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one signaling frame. Data is an opaque string whose meaning
// depends on Type.
type Message struct {
	Type string `json:"Type"`
	Data string `json:"Data"`
}

// RoomInfo is the Data of a room_info message.
type RoomInfo struct {
	ID string `json:"id"`
	// ExpiresIn is the remaining room lifetime in seconds.
	ExpiresIn int64 `json:"ex"`
}

// TTL returns the remaining lifetime as a duration.
func (r RoomInfo) TTL() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

// NewRoomInfoMessage encodes info as a room_info message.
func NewRoomInfoMessage(info RoomInfo) (Message, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return Message{}, fmt.Errorf("marshal room info: %w", err)
	}
	return Message{Type: TypeRoomInfo, Data: string(data)}, nil
}

// DecodeRoomInfo parses the Data of a room_info message.
func (m Message) DecodeRoomInfo() (RoomInfo, error) {
	if m.Type != TypeRoomInfo {
		return RoomInfo{}, fmt.Errorf("message type %q is not %s", m.Type, TypeRoomInfo)
	}
	var info RoomInfo
	if err := json.Unmarshal([]byte(m.Data), &info); err != nil {
		return RoomInfo{}, fmt.Errorf("unmarshal room info: %w", err)
	}
	if info.ID == "" {
		return RoomInfo{}, errors.New("room info has no id")
	}
	return info, nil
}

// Validate checks the type is known and Data is present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRoomInfo, TypeOffer, TypeAnswer:
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Data == "" {
		return errors.New("data is required")
	}
	return nil
}

// DecodeMessage parses and validates one signaling frame. Field names are
// matched case-insensitively.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NormalizeRoomID canonicalizes a user-typed room code.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
