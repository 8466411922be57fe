// Package peer holds the authenticated peer set and each peer's rate-limit
// table.
package peer

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ledgernode/internal/node"
	"ledgernode/internal/ratelimit"
)

const DefaultCap = 512

type Options struct {
	// Cap bounds the table; adding past it evicts the least recently active peer.
	Cap    int
	Policy ratelimit.Policy
	Now    func() time.Time
}

// Table is an LRU of peers ordered by activity. mu serializes compound
// operations and guards evicted, which the eviction callback writes while
// Add holds it.
type Table struct {
	mu      sync.Mutex
	policy  ratelimit.Policy
	now     func() time.Time
	peers   *lru.Cache[string, *entry]
	evicted string
}

type entry struct {
	node    node.NetworkNode
	limiter *ratelimit.Limiter
}

func NewTable(opts Options) *Table {
	capacity := opts.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &Table{policy: opts.Policy, now: now}
	// capacity is positive, so construction cannot fail.
	t.peers, _ = lru.NewWithEvict[string, *entry](capacity, func(id string, _ *entry) {
		t.evicted = id
	})
	return t
}

// Add inserts n with an empty rate-limit table, or refreshes the record of a
// peer already present. A refresh keeps the existing counters. It returns the
// id of an evicted peer, if any.
func (t *Table) Add(n node.NetworkNode) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.peers.Get(n.ID); ok {
		e.node = n
		return ""
	}
	t.evicted = ""
	if !t.peers.Add(n.ID, &entry{node: n, limiter: ratelimit.New(t.policy, t.now)}) {
		return ""
	}
	return t.evicted
}

// Remove drops the peer and its counters.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers.Remove(id)
}

func (t *Table) Get(id string) (node.NetworkNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers.Peek(id)
	if !ok {
		return node.NetworkNode{}, false
	}
	return e.node, true
}

// Allow counts one message of kind from peer id. known is false when the
// peer is not in the table, in which case nothing is counted.
func (t *Table) Allow(id, kind string) (known, allowed bool) {
	t.mu.Lock()
	e, ok := t.peers.Get(id)
	t.mu.Unlock()
	if !ok {
		return false, false
	}
	return true, e.limiter.Allow(kind)
}

// Update replaces the stored record of a known peer.
func (t *Table) Update(n node.NetworkNode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers.Peek(n.ID)
	if !ok {
		return false
	}
	e.node = n
	return true
}

// List returns the peers, most recently active first.
func (t *Table) List() []node.NetworkNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.peers.Values()
	out := make([]node.NetworkNode, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.node
	}
	return out
}

func (t *Table) Len() int {
	return t.peers.Len()
}
