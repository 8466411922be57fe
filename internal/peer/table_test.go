package peer_test

import (
	"testing"
	"time"

	"ledgernode/internal/node"
	"ledgernode/internal/peer"
	"ledgernode/internal/ratelimit"
)

func authed(id string) node.NetworkNode {
	return node.NetworkNode{ID: id, PublicKey: id, Status: node.StatusAuthenticated, Reputation: node.InitialReputation}
}

func TestTableCapEviction(t *testing.T) {
	tb := peer.NewTable(peer.Options{Cap: 2})
	tb.Add(authed("p1"))
	tb.Add(authed("p2"))
	if known, _ := tb.Allow("p1", "HANDSHAKE"); !known {
		t.Fatalf("expected p1 known")
	}
	if evicted := tb.Add(authed("p3")); evicted != "p2" {
		t.Fatalf("expected p2 evicted, got %q", evicted)
	}
	if tb.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", tb.Len())
	}
	if _, ok := tb.Get("p2"); ok {
		t.Fatalf("expected p2 gone")
	}
	peers := tb.List()
	if peers[0].ID != "p3" || peers[1].ID != "p1" {
		t.Fatalf("unexpected order: %+v", peers)
	}
}

func TestTableRemoveDropsCounters(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := peer.NewTable(peer.Options{
		Policy: ratelimit.Policy{Limits: map[string]int{"HANDSHAKE": 1}},
		Now:    func() time.Time { return now },
	})
	tb.Add(authed("p1"))
	if _, ok := tb.Allow("p1", "HANDSHAKE"); !ok {
		t.Fatalf("first handshake should pass")
	}
	if _, ok := tb.Allow("p1", "HANDSHAKE"); ok {
		t.Fatalf("second handshake should be limited")
	}

	// Re-adding a present peer keeps its counters.
	tb.Add(authed("p1"))
	if _, ok := tb.Allow("p1", "HANDSHAKE"); ok {
		t.Fatalf("refresh must not reset counters")
	}

	if !tb.Remove("p1") {
		t.Fatalf("expected remove to succeed")
	}
	if known, _ := tb.Allow("p1", "HANDSHAKE"); known {
		t.Fatalf("removed peer must be unknown")
	}
	tb.Add(authed("p1"))
	if _, ok := tb.Allow("p1", "HANDSHAKE"); !ok {
		t.Fatalf("re-added peer should start with empty counters")
	}
	if tb.Remove("missing") {
		t.Fatalf("expected remove of unknown peer to fail")
	}
}

func TestTableUpdate(t *testing.T) {
	tb := peer.NewTable(peer.Options{})
	n := authed("p1")
	tb.Add(n)
	n.Reputation = 40
	if !tb.Update(n) {
		t.Fatalf("expected update to succeed")
	}
	got, _ := tb.Get("p1")
	if got.Reputation != 40 {
		t.Fatalf("expected reputation 40, got %d", got.Reputation)
	}
	if tb.Update(authed("p9")) {
		t.Fatalf("expected update of unknown peer to fail")
	}
}

func TestTableRefreshAndRemoveOrdering(t *testing.T) {
	tb := peer.NewTable(peer.Options{Cap: 2})
	tb.Add(authed("p1"))
	tb.Add(authed("p2"))
	if evicted := tb.Add(authed("p1")); evicted != "" {
		t.Fatalf("refresh must not evict, got %q", evicted)
	}
	if peers := tb.List(); peers[0].ID != "p1" {
		t.Fatalf("expected refreshed peer first: %+v", peers)
	}

	// Removal frees a slot and is not reported as an eviction.
	tb.Remove("p2")
	if evicted := tb.Add(authed("p3")); evicted != "" {
		t.Fatalf("expected no eviction after remove, got %q", evicted)
	}
	if evicted := tb.Add(authed("p4")); evicted != "p1" {
		t.Fatalf("expected p1 evicted, got %q", evicted)
	}
}
