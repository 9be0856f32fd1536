// Package signaling is the peer side of the websocket relay used to swap
// one offer and one answer before the direct connection exists.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/promise"
	"github.com/sheerbytes/quicshare/pkg/protocol"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	sendQueue    = 16
)

// ErrNotConnected is returned by Send after the websocket has closed.
var ErrNotConnected = errors.New("signaling connection is closed")

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Client is a connection to the signaling server for one room.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	sendCh  chan protocol.Message
	writeMu sync.Mutex
	closing atomic.Bool

	roomInfo     *promise.Promise[protocol.RoomInfo]
	offer        *promise.Promise[string]
	answer       *promise.Promise[string]
	disconnected *promise.Promise[string]
}

// RoomsURL builds the websocket URL for role, joining roomID when set.
func RoomsURL(baseURL, role, roomID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse signal URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported signal URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + protocol.RoomsPath

	q := url.Values{}
	q.Set("role", role)
	if roomID != "" {
		q.Set("room_id", protocol.NormalizeRoomID(roomID))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the server at baseURL as role. A client role must name
// the room to join.
func Dial(ctx context.Context, baseURL, role, roomID string, logger *slog.Logger) (*Client, error) {
	if role == protocol.RoleClient && strings.TrimSpace(roomID) == "" {
		return nil, errors.New("room id is required to join")
	}
	wsURL, err := RoomsURL(baseURL, role, roomID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Client{
		conn:         conn,
		logger:       logging.OrDiscard(logger).With("component", "signaling", "role", role),
		sendCh:       make(chan protocol.Message, sendQueue),
		roomInfo:     promise.New[protocol.RoomInfo](),
		offer:        promise.New[string](),
		answer:       promise.New[string](),
		disconnected: promise.New[string](),
	}
	go c.writeLoop()
	go c.pingLoop()
	go c.readLoop()
	return c, nil
}

// RoomInfo resolves when the server announces the room (server role only).
func (c *Client) RoomInfo() *promise.Promise[protocol.RoomInfo] { return c.roomInfo }

// Offer resolves with the first offer relayed to this member.
func (c *Client) Offer() *promise.Promise[string] { return c.offer }

// Answer resolves with the first answer relayed to this member.
func (c *Client) Answer() *promise.Promise[string] { return c.answer }

// Disconnected is closed when the websocket is gone.
func (c *Client) Disconnected() <-chan struct{} { return c.disconnected.Done() }

// Reason returns why the connection closed, or "" while it is open.
func (c *Client) Reason() string {
	reason, _ := c.disconnected.Peek()
	return reason
}

// Send queues payload as a message of the given kind.
func (c *Client) Send(ctx context.Context, kind, payload string) error {
	msg := protocol.Message{Type: kind, Data: payload}
	if err := msg.Validate(); err != nil {
		return err
	}
	if c.disconnected.Resolved() {
		return ErrNotConnected
	}
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.disconnected.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a normal close frame and tears the connection down.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.fail("closed")
	return nil
}

func (c *Client) fail(reason string) {
	if c.disconnected.Resolve(reason) {
		c.logger.Debug("signaling disconnected", "reason", reason)
		_ = c.conn.Close()
	}
}

func (c *Client) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(closeReason(err, c.closing.Load()))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			c.logger.Warn("invalid signaling message", "error", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg protocol.Message) {
	var first bool
	switch msg.Type {
	case protocol.TypeRoomInfo:
		info, err := msg.DecodeRoomInfo()
		if err != nil {
			c.logger.Warn("invalid room info", "error", err)
			return
		}
		first = c.roomInfo.Resolve(info)
	case protocol.TypeOffer:
		first = c.offer.Resolve(msg.Data)
	case protocol.TypeAnswer:
		first = c.answer.Resolve(msg.Data)
	}
	if !first {
		c.logger.Warn("ignoring repeated signaling message", "type", msg.Type)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteJSON(msg)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Error("websocket write error", "error", err)
				c.fail(fmt.Sprintf("write failed: %v", err))
				return
			}
		case <-c.disconnected.Done():
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.disconnected.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func closeReason(err error, local bool) string {
	if local {
		return "closed"
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return "signaling server closed the connection"
	}
	return err.Error()
}
