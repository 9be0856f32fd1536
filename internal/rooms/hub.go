package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/sheerbytes/quicshare/pkg/protocol"
)

const memberQueue = 16

// ErrRoleTaken is returned when a room already has a member in that role.
var ErrRoleTaken = errors.New("room already has a member in that role")

// Member is one websocket attached to a room.
type Member struct {
	ConnID   string
	Role     string
	RemoteIP string
}

type memberConn struct {
	member  Member
	send    chan protocol.Message
	done    chan struct{}
	closeFn func(reason string)
}

type roomMembers struct {
	server *memberConn
	client *memberConn
}

func (r *roomMembers) slot(role string) **memberConn {
	if role == protocol.RoleServer {
		return &r.server
	}
	return &r.client
}

// Hub tracks the members of each room and relays messages between them.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roomMembers
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*roomMembers)}
}

// Join attaches m to roomID. send writes one message to the member's
// socket and closeFn closes it with a reason. The returned leave function
// detaches the member; it is safe to call more than once.
func (h *Hub) Join(roomID string, m Member, send func(protocol.Message) error, closeFn func(reason string)) (leave func(), err error) {
	mc := &memberConn{
		member:  m,
		send:    make(chan protocol.Message, memberQueue),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}

	h.mu.Lock()
	rm := h.rooms[roomID]
	if rm == nil {
		rm = &roomMembers{}
		h.rooms[roomID] = rm
	}
	slot := rm.slot(m.Role)
	if *slot != nil {
		h.mu.Unlock()
		return nil, ErrRoleTaken
	}
	*slot = mc
	h.mu.Unlock()

	go func() {
		defer close(mc.done)
		for msg := range mc.send {
			if err := send(msg); err != nil {
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { h.detach(roomID, mc) })
	}, nil
}

func (h *Hub) detach(roomID string, mc *memberConn) {
	h.mu.Lock()
	rm := h.rooms[roomID]
	if rm == nil {
		h.mu.Unlock()
		return
	}
	slot := rm.slot(mc.member.Role)
	if *slot != mc {
		h.mu.Unlock()
		return
	}
	*slot = nil
	if rm.server == nil && rm.client == nil {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	close(mc.send)
	select {
	case <-mc.done:
	case <-time.After(time.Second):
	}
}

// Relay queues msg for the member opposite fromRole. It returns false when
// there is no such member or its queue is full.
func (h *Hub) Relay(roomID, fromRole string, msg protocol.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[roomID]
	if rm == nil {
		return false
	}
	target := rm.client
	if fromRole == protocol.RoleClient {
		target = rm.server
	}
	if target == nil {
		return false
	}
	select {
	case target.send <- msg:
		return true
	default:
		return false
	}
}

// SendTo queues msg for the member in role.
func (h *Hub) SendTo(roomID, role string, msg protocol.Message) bool {
	from := protocol.RoleClient
	if role == protocol.RoleClient {
		from = protocol.RoleServer
	}
	return h.Relay(roomID, from, msg)
}

// Close closes every member of roomID with reason.
func (h *Hub) Close(roomID, reason string) {
	h.mu.Lock()
	rm := h.rooms[roomID]
	var members []*memberConn
	if rm != nil {
		for _, mc := range []*memberConn{rm.server, rm.client} {
			if mc != nil {
				members = append(members, mc)
			}
		}
	}
	h.mu.Unlock()

	for _, mc := range members {
		if mc.closeFn != nil {
			mc.closeFn(reason)
		}
	}
}

// CloseExcept closes every member of roomID other than connID.
func (h *Hub) CloseExcept(roomID, connID, reason string) {
	h.mu.Lock()
	rm := h.rooms[roomID]
	var members []*memberConn
	if rm != nil {
		for _, mc := range []*memberConn{rm.server, rm.client} {
			if mc != nil && mc.member.ConnID != connID {
				members = append(members, mc)
			}
		}
	}
	h.mu.Unlock()

	for _, mc := range members {
		if mc.closeFn != nil {
			mc.closeFn(reason)
		}
	}
}

// Members returns the members currently in roomID.
func (h *Hub) Members(roomID string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[roomID]
	if rm == nil {
		return nil
	}
	var out []Member
	for _, mc := range []*memberConn{rm.server, rm.client} {
		if mc != nil {
			out = append(out, mc.member)
		}
	}
	return out
}
