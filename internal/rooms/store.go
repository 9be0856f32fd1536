// Package rooms is the signaling relay: it pairs one hosting peer with one
// joining peer per room and forwards their offer and answer.
package rooms

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/sheerbytes/quicshare/pkg/protocol"
)

const roomCodeLength = 8

// Room is one rendezvous point.
type Room struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Info returns the room_info payload as seen at now.
func (r Room) Info(now time.Time) protocol.RoomInfo {
	remaining := r.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return protocol.RoomInfo{ID: r.ID, ExpiresIn: int64(remaining / time.Second)}
}

// Store is a thread-safe in-memory room registry.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]Room
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a store whose rooms live for ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		rooms: make(map[string]Room),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create registers a room with a fresh, unused code.
func (s *Store) Create() Room {
	now := s.now()
	room := Room{
		ID:        generateRoomCode(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exists := s.rooms[room.ID]; exists; _, exists = s.rooms[room.ID] {
		room.ID = generateRoomCode()
	}
	s.rooms[room.ID] = room
	return room
}

// Get looks a room up by code, ignoring case. Expired rooms are not found.
func (s *Store) Get(id string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[protocol.NormalizeRoomID(id)]
	if !ok || s.now().After(room.ExpiresAt) {
		return Room{}, false
	}
	return room, true
}

// Delete removes a room.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.rooms, protocol.NormalizeRoomID(id))
	s.mu.Unlock()
}

// Count returns the number of registered rooms.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// CleanupExpired removes rooms that expired before now and returns how
// many were removed.
func (s *Store) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, room := range s.rooms {
		if now.After(room.ExpiresAt) {
			delete(s.rooms, id)
			removed++
		}
	}
	return removed
}

// generateRoomCode returns an 8-character code of uppercase letters and
// digits without the ambiguous O, 0, I and 1.
func generateRoomCode() string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		panic("rooms: crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}
