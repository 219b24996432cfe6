package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := New(1, 3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("expected token %d to be allowed within burst", i)
		}
	}
	if l.Allow("a") {
		t.Fatal("expected burst to be exhausted")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	if !l.Allow("a") {
		t.Fatal("expected first token for a to be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("expected first token for b to be allowed independently of a")
	}
	if l.Allow("a") {
		t.Fatal("expected a's bucket to be exhausted")
	}
}

func TestCleanupEvictsIdleBuckets(t *testing.T) {
	l := New(1, 1, time.Millisecond)
	l.Allow("a")
	time.Sleep(5 * time.Millisecond)
	l.Cleanup()

	l.mu.Lock()
	_, exists := l.buckets["a"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle bucket to be evicted")
	}
}

func TestNewPerMinuteDerivesRate(t *testing.T) {
	l := NewPerMinute(10, time.Minute)
	if l.burst != 10 {
		t.Fatalf("expected burst 10, got %d", l.burst)
	}
	if got := float64(l.r); got != 10.0/60.0 {
		t.Fatalf("expected rate 10/60 per second, got %v", got)
	}
}

func TestDefaultLimitersBundlesThree(t *testing.T) {
	limiters := DefaultLimiters()
	if limiters.Connect == nil || limiters.Message == nil || limiters.QueueJoin == nil {
		t.Fatal("expected all three default limiters to be non-nil")
	}
}
