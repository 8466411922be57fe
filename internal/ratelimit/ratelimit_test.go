package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAllowWindow(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(Policy{Window: time.Minute, Limits: map[string]int{"HANDSHAKE": 5}}, c.now)
	for i := 0; i < 5; i++ {
		if !l.Allow("HANDSHAKE") {
			t.Fatalf("message %d should pass", i+1)
		}
	}
	if l.Allow("HANDSHAKE") {
		t.Fatalf("6th message in window should be refused")
	}
	if got := l.Remaining("HANDSHAKE"); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}

	c.t = c.t.Add(time.Minute)
	if l.Allow("HANDSHAKE") {
		t.Fatalf("window boundary still belongs to the old window")
	}
	c.t = c.t.Add(time.Millisecond)
	if !l.Allow("HANDSHAKE") {
		t.Fatalf("expected a fresh window after it elapsed")
	}
	if got := l.Remaining("HANDSHAKE"); got != 4 {
		t.Fatalf("expected 4 remaining, got %d", got)
	}
}

func TestAllowKeysIndependent(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	l := New(Policy{Limits: map[string]int{"A": 1}}, c.now)
	if !l.Allow("A") || l.Allow("A") {
		t.Fatalf("expected cap 1 for A")
	}
	for i := 0; i < DefaultLimit; i++ {
		if !l.Allow("B") {
			t.Fatalf("B message %d should pass under the default cap", i+1)
		}
	}
	if l.Allow("B") {
		t.Fatalf("expected default cap for B")
	}
}

func TestNonPositiveLimitDisables(t *testing.T) {
	l := New(Policy{Default: -1}, nil)
	for i := 0; i < 100; i++ {
		if !l.Allow("any") {
			t.Fatalf("expected unlimited key")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("x") {
		t.Fatalf("nil limiter should allow")
	}
}
