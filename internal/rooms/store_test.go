package rooms

import (
	"strings"
	"testing"
	"time"
)

func TestStore_Create(t *testing.T) {
	store := NewStore(30 * time.Minute)

	codes := make(map[string]bool)
	for i := 0; i < 100; i++ {
		room := store.Create()

		if codes[room.ID] {
			t.Errorf("Duplicate room code: %s", room.ID)
		}
		codes[room.ID] = true

		if len(room.ID) != roomCodeLength {
			t.Errorf("Room code length = %d, want %d", len(room.ID), roomCodeLength)
		}
		for _, char := range room.ID {
			if char == 'O' || char == '0' || char == 'I' || char == '1' {
				t.Errorf("Room code contains ambiguous character: %c in %s", char, room.ID)
			}
			if !((char >= 'A' && char <= 'Z') || (char >= '2' && char <= '9')) {
				t.Errorf("Room code contains invalid character: %c in %s", char, room.ID)
			}
		}
		if room.CreatedAt.IsZero() {
			t.Error("CreatedAt should not be zero")
		}
		if got := room.ExpiresAt.Sub(room.CreatedAt); got != 30*time.Minute {
			t.Errorf("room lifetime = %s, want 30m", got)
		}
	}
	if store.Count() != 100 {
		t.Errorf("Count = %d, want 100", store.Count())
	}
}

func TestStore_GetIgnoresCase(t *testing.T) {
	store := NewStore(time.Minute)
	room := store.Create()

	got, ok := store.Get(" " + strings.ToLower(room.ID) + " ")
	if !ok {
		t.Fatal("room should be found by lowercase code")
	}
	if got.ID != room.ID {
		t.Errorf("Get ID = %s, want %s", got.ID, room.ID)
	}

	if _, ok := store.Get("INVALID"); ok {
		t.Error("unknown code should not be found")
	}
}

func TestStore_Expiry(t *testing.T) {
	store := NewStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	room := store.Create()

	info := room.Info(now.Add(15 * time.Second))
	if info.ExpiresIn != 45 {
		t.Errorf("ExpiresIn = %d, want 45", info.ExpiresIn)
	}
	if room.Info(now.Add(time.Hour)).ExpiresIn != 0 {
		t.Error("ExpiresIn should not go negative")
	}

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := store.Get(room.ID); ok {
		t.Error("expired room should not be found")
	}

	if removed := store.CleanupExpired(now.Add(2 * time.Minute)); removed != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", removed)
	}
	if store.Count() != 0 {
		t.Errorf("Count = %d after cleanup, want 0", store.Count())
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(time.Minute)
	room := store.Create()
	store.Delete(strings.ToLower(room.ID))
	if _, ok := store.Get(room.ID); ok {
		t.Error("deleted room should not be found")
	}
}
