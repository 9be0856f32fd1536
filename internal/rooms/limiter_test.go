package rooms

import (
	"testing"
	"time"
)

func TestIPLimiter_Burst(t *testing.T) {
	l := NewIPLimiter(1, 3)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst should be refused")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other IPs have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Error("bucket should refill after one second")
	}
}

func TestIPLimiter_Prune(t *testing.T) {
	l := NewIPLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(time.Hour)
	l.Allow("b")

	if removed := l.Prune(time.Minute); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
}
