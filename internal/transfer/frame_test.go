package transfer

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("READY")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte("FILE_SENT:abcd")))

	assert.Equal(t, []byte{0, 0, 0, 5}, buf.Bytes()[:4])

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "READY", string(first))

	keepAlive, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.NotNil(t, keepAlive)
	assert.Empty(t, keepAlive)

	third, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "FILE_SENT:abcd", string(third))

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameNegativeLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(-1))

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrInvalidFrameLength)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("abc")

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteFrameTooLarge(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameLength+1))
	assert.ErrorIs(t, err, ErrInvalidFrameLength)
}

func TestStreamHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStreamHeader(&buf, HeaderControl))
	require.NoError(t, WriteStreamHeader(&buf, HeaderTransfer))
	buf.WriteByte(0x07)

	h, err := ReadStreamHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderControl, h)

	h, err = ReadStreamHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderTransfer, h)

	_, err = ReadStreamHeader(&buf)
	assert.ErrorIs(t, err, ErrUnknownStream)
}
