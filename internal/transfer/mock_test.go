package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConnStreams(t *testing.T) {
	a, b := NewMockConnPair()
	defer a.Close()
	ctx := context.Background()

	sa, err := a.OpenStream(ctx)
	require.NoError(t, err)
	sb, err := b.AcceptStream(ctx)
	require.NoError(t, err)

	go sa.Write([]byte("ping"))
	buf := make([]byte, 4)
	_, err = io.ReadFull(sb, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	assert.NotEqual(t, a.RemoteAddr().String(), b.RemoteAddr().String())
}

func TestMockConnClose(t *testing.T) {
	a, b := NewMockConnPair()
	ctx := context.Background()

	sa, err := a.OpenStream(ctx)
	require.NoError(t, err)
	sb, err := b.AcceptStream(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, err = a.AcceptStream(ctx)
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = sa.Write([]byte("x"))
	assert.Error(t, err)
	_, err = sb.Read(make([]byte, 1))
	assert.Error(t, err)

	select {
	case <-a.Closed():
	default:
		t.Fatal("close must be visible on both ends")
	}
}

func TestMockConnSever(t *testing.T) {
	a, b := NewMockConnPair()
	defer a.Close()
	ctx := context.Background()

	sa, err := a.OpenStream(ctx)
	require.NoError(t, err)
	_, err = b.AcceptStream(ctx)
	require.NoError(t, err)

	a.Sever()
	require.NoError(t, sa.SetWriteDeadline(time.Now().Add(50*time.Millisecond)))

	start := time.Now()
	_, err = sa.Write(nil)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}
