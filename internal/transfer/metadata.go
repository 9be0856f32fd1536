package transfer

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata is the offer a sender makes before any file bytes move.
// FileSize travels as a decimal string.
type Metadata struct {
	FileName string
	FileSize string
}

// NewMetadata builds the offer for a file of size bytes.
func NewMetadata(name string, size int64) Metadata {
	return Metadata{FileName: name, FileSize: strconv.FormatInt(size, 10)}
}

// Size returns the parsed file size. Only plain decimal digits are
// accepted, so every size has exactly one wire form.
func (m Metadata) Size() (int64, error) {
	if m.FileSize == "" {
		return 0, fmt.Errorf("invalid file size %q: empty", m.FileSize)
	}
	for _, r := range m.FileSize {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid file size %q: not a decimal number", m.FileSize)
		}
	}
	size, err := strconv.ParseInt(m.FileSize, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file size %q: %w", m.FileSize, err)
	}
	return size, nil
}

// Encode returns the JSON form carried in a METADATA message.
func (m Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMetadata decodes and validates a METADATA payload. The returned
// FileName is reduced to a safe base name.
func ParseMetadata(data []byte) (Metadata, int64, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	name, err := SanitizeFilename(m.FileName)
	if err != nil {
		return Metadata{}, 0, err
	}
	m.FileName = name
	size, err := m.Size()
	if err != nil {
		return Metadata{}, 0, err
	}
	return m, size, nil
}
