package node

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type Options struct {
	ChallengeTTL  time.Duration
	MaxChallenges int
	Now           func() time.Time
	Logger        *zap.Logger
}

// Registry tracks network nodes, their authentication state and reputation.
type Registry struct {
	mu           sync.Mutex
	nodes        map[string]NetworkNode
	issued       *lru.Cache[string, AuthChallenge]
	challengeTTL time.Duration
	now          func() time.Time
	log          *zap.Logger
}

func NewRegistry(opts Options) *Registry {
	ttl := opts.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	size := opts.MaxChallenges
	if size <= 0 {
		size = DefaultMaxChallenges
	}
	// lru.New only fails for a non-positive size.
	issued, _ := lru.New[string, AuthChallenge](size)
	return &Registry{
		nodes:        make(map[string]NetworkNode),
		issued:       issued,
		challengeTTL: ttl,
		now:          now,
		log:          log.Named("registry"),
	}
}

func (r *Registry) Register(publicKey string, kind Kind, address string, port int) NetworkNode {
	n := NetworkNode{
		ID:         DeriveNodeID(publicKey, address, port),
		PublicKey:  publicKey,
		Kind:       kind,
		Address:    address,
		Port:       port,
		Status:     StatusPending,
		LastSeen:   r.now().UnixMilli(),
		Reputation: InitialReputation,
	}
	r.mu.Lock()
	r.nodes[n.ID] = n
	r.mu.Unlock()
	r.log.Debug("node registered", zap.String("node_id", n.ID), zap.String("kind", string(kind)))
	return n
}

// SetStatus applies a status transition. Only pending nodes may move, and
// only to authenticated or rejected; other requests return the node unchanged.
func (r *Registry) SetStatus(n NetworkNode, status Status) NetworkNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.currentLocked(n)
	if !canTransition(cur.Status, status) {
		return cur
	}
	cur.Status = status
	cur.LastSeen = r.now().UnixMilli()
	r.nodes[cur.ID] = cur
	r.log.Debug("node status", zap.String("node_id", cur.ID), zap.String("status", string(status)))
	return cur
}

func (r *Registry) AdjustReputation(n NetworkNode, delta int) NetworkNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.currentLocked(n)
	cur.Reputation = clampReputation(cur.Reputation + delta)
	cur.LastSeen = r.now().UnixMilli()
	r.nodes[cur.ID] = cur
	return cur
}

func (r *Registry) Get(id string) (NetworkNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) List() []NetworkNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NetworkNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) currentLocked(n NetworkNode) NetworkNode {
	if cur, ok := r.nodes[n.ID]; ok {
		return cur
	}
	return n
}
