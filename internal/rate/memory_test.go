package rate

import (
	"testing"
	"time"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, time.Minute) {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("k", 3, time.Minute) {
		t.Fatalf("fourth request should be limited")
	}
	if !l.Allow("other", 3, time.Minute) {
		t.Fatalf("keys must be independent")
	}

	now = now.Add(20 * time.Second)
	if !l.Allow("k", 3, time.Minute) {
		t.Fatalf("one token should have refilled")
	}
}

func TestLimiterEvictsIdleKeys(t *testing.T) {
	l := NewLimiter()
	now := time.Now().UTC()
	l.now = func() time.Time { return now }
	l.Allow("a", 1, time.Second)
	l.Allow("b", 1, time.Second)

	now = now.Add(2 * time.Minute)
	l.Allow("c", 1, time.Second)
	if l.Len() != 1 {
		t.Fatalf("expected idle keys to be collected, have %d", l.Len())
	}
}
