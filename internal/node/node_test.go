package node

import (
	"math"
	"testing"
	"time"

	"ledgernode/internal/crypto"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry() (*Registry, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewRegistry(Options{Now: clk.Now}), clk
}

func TestDeriveNodeID(t *testing.T) {
	got := DeriveNodeID("pub", "10.0.0.1", 7000)
	want := crypto.HashString("pub10.0.0.17000")
	if got != want {
		t.Fatalf("unexpected node id")
	}
}

func TestRegisterDefaults(t *testing.T) {
	r, _ := newTestRegistry()
	n := r.Register("pub", KindFull, "10.0.0.1", 7000)
	if n.Status != StatusPending {
		t.Fatalf("expected pending, got %s", n.Status)
	}
	if n.Reputation != InitialReputation {
		t.Fatalf("expected reputation %d, got %d", InitialReputation, n.Reputation)
	}
	if n.ID != DeriveNodeID("pub", "10.0.0.1", 7000) {
		t.Fatalf("id mismatch")
	}
	if got, ok := r.Get(n.ID); !ok || got != n {
		t.Fatalf("expected registered node to be retrievable")
	}
}

func TestStatusTransitionsAreTerminal(t *testing.T) {
	r, clk := newTestRegistry()
	n := r.Register("pub", KindValidator, "h", 1)
	clk.Advance(time.Second)
	n = r.SetStatus(n, StatusAuthenticated)
	if n.Status != StatusAuthenticated {
		t.Fatalf("expected authenticated, got %s", n.Status)
	}
	if n.LastSeen != clk.Now().UnixMilli() {
		t.Fatalf("expected last-seen refresh")
	}
	if got := r.SetStatus(n, StatusPending); got.Status != StatusAuthenticated {
		t.Fatalf("authenticated must be terminal, got %s", got.Status)
	}
	if got := r.SetStatus(n, StatusRejected); got.Status != StatusAuthenticated {
		t.Fatalf("authenticated must be terminal, got %s", got.Status)
	}

	m := r.Register("pub2", KindLight, "h", 2)
	m = r.SetStatus(m, StatusRejected)
	if got := r.SetStatus(m, StatusAuthenticated); got.Status != StatusRejected {
		t.Fatalf("rejected must be terminal, got %s", got.Status)
	}
}

func TestAdjustReputationClamps(t *testing.T) {
	r, _ := newTestRegistry()
	n := r.Register("pub", KindMiner, "h", 1)
	n = r.AdjustReputation(n, 80)
	if n.Reputation != MaxReputation {
		t.Fatalf("expected clamp at %d, got %d", MaxReputation, n.Reputation)
	}
	n = r.AdjustReputation(n, -500)
	if n.Reputation != MinReputation {
		t.Fatalf("expected clamp at %d, got %d", MinReputation, n.Reputation)
	}
	n = r.AdjustReputation(n, 7)
	if n.Reputation != 7 {
		t.Fatalf("expected 7, got %d", n.Reputation)
	}
}

func TestChallengeResponse(t *testing.T) {
	r, _ := newTestRegistry()
	ch := r.IssueChallenge()
	if ch.ExpiresAt-ch.IssuedAt != DefaultChallengeTTL.Milliseconds() {
		t.Fatalf("expected 5 minute expiry")
	}
	if ch.ChallengeID == "" || ch.Challenge == "" {
		t.Fatalf("expected populated challenge")
	}
	resp := Respond(ch, "secret")
	if !r.VerifyResponse(ch, resp, "secret") {
		t.Fatalf("expected valid response")
	}
	if r.VerifyResponse(ch, resp, "secret") {
		t.Fatalf("expected challenge to be single-use")
	}
}

func TestChallengeWrongKeyConsumes(t *testing.T) {
	r, _ := newTestRegistry()
	ch := r.IssueChallenge()
	if r.VerifyResponse(ch, Respond(ch, "secret"), "other") {
		t.Fatalf("expected failure with wrong key")
	}
	if r.VerifyResponse(ch, Respond(ch, "secret"), "secret") {
		t.Fatalf("expected failed attempt to consume challenge")
	}
}

func TestChallengeExpiry(t *testing.T) {
	r, clk := newTestRegistry()
	ch := r.IssueChallenge()
	resp := Respond(ch, "secret")
	clk.Advance(DefaultChallengeTTL)
	clk.Advance(time.Millisecond)
	if r.VerifyResponse(ch, resp, "secret") {
		t.Fatalf("expected expired challenge to fail")
	}
}

func TestChallengeValidAtExpiryBoundary(t *testing.T) {
	r, clk := newTestRegistry()
	ch := r.IssueChallenge()
	clk.Advance(DefaultChallengeTTL)
	if !r.VerifyResponse(ch, Respond(ch, "k"), "k") {
		t.Fatalf("expected response at exact expiry to pass")
	}
}

func TestChallengeNotIssuedFails(t *testing.T) {
	r, clk := newTestRegistry()
	forged := AuthChallenge{ChallengeID: "made-up", Challenge: "c", ExpiresAt: math.MaxInt64}
	if r.VerifyResponse(forged, Respond(forged, "k"), "k") {
		t.Fatalf("expected challenge the registry never issued to fail")
	}

	// A caller cannot extend an issued challenge by editing its expiry.
	ch := r.IssueChallenge()
	ch.ExpiresAt = math.MaxInt64
	clk.Advance(DefaultChallengeTTL + time.Second)
	if r.VerifyResponse(ch, Respond(ch, "k"), "k") {
		t.Fatalf("expected stored expiry to apply")
	}
}

func TestChallengeStoredTextIsAuthoritative(t *testing.T) {
	r, _ := newTestRegistry()
	ch := r.IssueChallenge()
	swapped := ch
	swapped.Challenge = "attacker-chosen"
	if r.VerifyResponse(swapped, Respond(swapped, "k"), "k") {
		t.Fatalf("expected response over substituted challenge text to fail")
	}
}

func TestOutstandingChallengesBounded(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(Options{Now: clk.Now, MaxChallenges: 2})
	first := r.IssueChallenge()
	second := r.IssueChallenge()
	third := r.IssueChallenge()
	if r.issued.Len() != 2 {
		t.Fatalf("expected 2 outstanding challenges, got %d", r.issued.Len())
	}
	if r.VerifyResponse(first, Respond(first, "k"), "k") {
		t.Fatalf("expected oldest challenge to be forgotten")
	}
	if !r.VerifyResponse(second, Respond(second, "k"), "k") || !r.VerifyResponse(third, Respond(third, "k"), "k") {
		t.Fatalf("expected newer challenges to verify")
	}
	if r.issued.Len() != 0 {
		t.Fatalf("expected answered challenges to be removed, got %d", r.issued.Len())
	}
}
