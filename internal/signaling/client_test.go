package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/quicshare/pkg/protocol"
)

func TestRoomsURL(t *testing.T) {
	got, err := RoomsURL("https://signal.example.com/", protocol.RoleClient, " abcd2345 ")
	require.NoError(t, err)
	assert.Equal(t, "wss://signal.example.com/ws/rooms?role=client&room_id=ABCD2345", got)

	got, err = RoomsURL("http://localhost:8080", protocol.RoleServer, "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/rooms?role=server", got)

	_, err = RoomsURL("ftp://x", protocol.RoleServer, "")
	assert.Error(t, err)
}

func TestDialRequiresRoomToJoin(t *testing.T) {
	_, err := Dial(context.Background(), "http://localhost:1", protocol.RoleClient, "", nil)
	assert.Error(t, err)
}

// scriptedServer upgrades one connection and hands it to script.
func scriptedServer(t *testing.T, script func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientResolvesPromisesAndReason(t *testing.T) {
	received := make(chan protocol.Message, 1)
	srv := scriptedServer(t, func(conn *websocket.Conn) {
		info, _ := protocol.NewRoomInfoMessage(protocol.RoomInfo{ID: "ROOM2345", ExpiresIn: 60})
		_ = conn.WriteJSON(info)
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeOffer, Data: "first"})
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeOffer, Data: "second"})

		var m protocol.Message
		if err := conn.ReadJSON(&m); err == nil {
			received <- m
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.ReasonPeerLeft),
			time.Now().Add(time.Second))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL, protocol.RoleServer, "", nil)
	require.NoError(t, err)
	defer c.Close()

	info, err := c.RoomInfo().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ROOM2345", info.ID)

	offer, err := c.Offer().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", offer)

	require.NoError(t, c.Send(ctx, protocol.TypeAnswer, "reply"))
	select {
	case m := <-received:
		assert.Equal(t, protocol.Message{Type: protocol.TypeAnswer, Data: "reply"}, m)
	case <-ctx.Done():
		t.Fatal("server never got the answer")
	}

	select {
	case <-c.Disconnected():
	case <-ctx.Done():
		t.Fatal("client never saw the close frame")
	}
	assert.Equal(t, protocol.ReasonPeerLeft, c.Reason())
	assert.ErrorIs(t, c.Send(ctx, protocol.TypeAnswer, "late"), ErrNotConnected)
}

func TestSendRejectsInvalidMessage(t *testing.T) {
	srv := scriptedServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	c, err := Dial(context.Background(), srv.URL, protocol.RoleServer, "", nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.Send(context.Background(), "bogus", "x"))
	assert.Error(t, c.Send(context.Background(), protocol.TypeOffer, ""))
}
