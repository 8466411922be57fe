// Package p2p authenticates, rate-limits and dispatches peer messages.
package p2p

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgernode/internal/block"
	"ledgernode/internal/crypto"
	"ledgernode/internal/metrics"
	"ledgernode/internal/node"
	"ledgernode/internal/peer"
	"ledgernode/internal/proto"
	"ledgernode/internal/ratelimit"
)

const (
	DefaultVerifyCacheSize = 10_000
	DefaultVerifyCacheTTL  = 5 * time.Minute

	reputationBadSignature = -10
	reputationGoodMessage  = 1
)

// DefaultRateLimits are the per-minute caps per peer and kind. Other kinds
// fall back to ratelimit.DefaultLimit.
var DefaultRateLimits = map[proto.Kind]int{
	proto.KindHandshake:               5,
	proto.KindBlockAnnouncement:       10,
	proto.KindTransactionAnnouncement: 100,
	proto.KindBlockRequest:            20,
	proto.KindChainRequest:            5,
	proto.KindPeerListRequest:         10,
}

// Ledger is the chain state the handlers read and write.
type Ledger interface {
	AddTransaction(d block.TxDraft) (block.Transaction, bool)
	LatestBlock() block.Block
	Chain() []block.Block
	AbortMining(height int64) bool
}

// Transport delivers an envelope to one peer.
type Transport interface {
	Send(ctx context.Context, peerID string, env proto.Envelope) error
}

type Options struct {
	PublicKey  string
	PrivateKey string
	NodeKind   node.Kind
	Ledger     Ledger
	// Registry, when set, receives reputation feedback for peers it knows.
	Registry  *node.Registry
	Transport Transport

	RateLimits map[proto.Kind]int
	RateWindow time.Duration
	PeerCap    int

	VerifyCacheSize int
	VerifyCacheTTL  time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Protocol struct {
	publicKey   string
	privateKey  string
	nodeKind    node.Kind
	ledger      Ledger
	registry    *node.Registry
	transport   Transport
	peers       *peer.Table
	verifyCache *lru.Cache[string, int64]
	verifyTTL   time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(opts Options) (*Protocol, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("missing ledger")
	}
	if opts.NodeKind == "" {
		opts.NodeKind = node.KindFull
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limits := opts.RateLimits
	if limits == nil {
		limits = DefaultRateLimits
	}
	policy := ratelimit.Policy{
		Window:  opts.RateWindow,
		Default: ratelimit.DefaultLimit,
		Limits:  make(map[string]int, len(limits)),
	}
	for k, v := range limits {
		policy.Limits[string(k)] = v
	}
	size := opts.VerifyCacheSize
	if size <= 0 {
		size = DefaultVerifyCacheSize
	}
	ttl := opts.VerifyCacheTTL
	if ttl <= 0 {
		ttl = DefaultVerifyCacheTTL
	}
	cache, err := lru.New[string, int64](size)
	if err != nil {
		return nil, err
	}
	return &Protocol{
		publicKey:   opts.PublicKey,
		privateKey:  opts.PrivateKey,
		nodeKind:    opts.NodeKind,
		ledger:      opts.Ledger,
		registry:    opts.Registry,
		transport:   opts.Transport,
		peers:       peer.NewTable(peer.Options{Cap: opts.PeerCap, Policy: policy, Now: opts.Now}),
		verifyCache: cache,
		verifyTTL:   ttl,
		log:         opts.Logger.Named("p2p"),
		metrics:     opts.Metrics,
		now:         opts.Now,
	}, nil
}

// AddPeer admits an authenticated node with an empty rate-limit table.
func (p *Protocol) AddPeer(n node.NetworkNode) bool {
	if n.Status != node.StatusAuthenticated {
		p.log.Debug("peer not authenticated", zap.String("peer", n.ID), zap.String("status", string(n.Status)))
		return false
	}
	if evicted := p.peers.Add(n); evicted != "" {
		p.log.Info("peer evicted", zap.String("peer", evicted))
	}
	return true
}

func (p *Protocol) RemovePeer(id string) bool {
	return p.peers.Remove(id)
}

func (p *Protocol) GetPeers() []node.NetworkNode {
	return p.peers.List()
}

// Seal wraps payload in an envelope from the local identity and signs it.
func (p *Protocol) Seal(payload proto.Payload) (proto.Envelope, error) {
	env := proto.New(payload, p.publicKey, p.now().UnixMilli())
	if err := env.Sign(p.privateKey); err != nil {
		return proto.Envelope{}, err
	}
	return env, nil
}

// VerifyEnvelope checks the envelope MAC against its declared sender.
// Successful checks are cached by signing digest and signature until the
// cache TTL passes.
func (p *Protocol) VerifyEnvelope(env proto.Envelope) bool {
	msg, err := env.SigningBytes()
	if err != nil {
		return false
	}
	key := crypto.Hash(append(msg, env.Signature...))
	now := p.now()
	if expires, ok := p.verifyCache.Get(key); ok {
		if now.UnixNano() <= expires {
			return true
		}
		p.verifyCache.Remove(key)
	}
	if !crypto.Verify(msg, env.Signature, env.Sender) {
		return false
	}
	p.verifyCache.Add(key, now.Add(p.verifyTTL).UnixNano())
	return true
}

// HandleMessage rejects unknown kinds, then runs the unknown-peer, rate and
// signature checks in that order and dispatches the envelope. Dropped messages yield no reply and
// are never echoed to the peer.
func (p *Protocol) HandleMessage(peerID string, env proto.Envelope) (proto.Envelope, bool) {
	if !env.Kind.Valid() {
		p.drop(peerID, env.Kind, metrics.DropDecode)
		return proto.Envelope{}, false
	}
	known, allowed := p.peers.Allow(peerID, string(env.Kind))
	if !known {
		p.drop(peerID, env.Kind, metrics.DropUnknownPeer)
		return proto.Envelope{}, false
	}
	if !allowed {
		p.drop(peerID, env.Kind, metrics.DropRate)
		return proto.Envelope{}, false
	}
	if !p.VerifyEnvelope(env) {
		p.drop(peerID, env.Kind, metrics.DropSignature)
		p.adjustReputation(peerID, reputationBadSignature)
		return proto.Envelope{}, false
	}
	p.metrics.IncRecvByKind(string(env.Kind))

	var reply proto.Payload
	switch msg := env.Payload.(type) {
	case proto.Handshake:
		reply = p.onHandshake(msg)
	case proto.BlockAnnouncement:
		reply = p.onBlockAnnouncement(peerID, msg)
	case proto.TransactionAnnouncement:
		reply = p.onTransactionAnnouncement(peerID, msg)
	case proto.BlockRequest:
		reply = proto.BlockResponse{Block: p.ledger.LatestBlock()}
	case proto.ChainRequest:
		reply = proto.ChainResponse{Blocks: chainSlice(p.ledger.Chain(), msg.Start, msg.End)}
	case proto.PeerListRequest:
		reply = proto.PeerListResponse{Peers: p.peersExcept(peerID)}
	case proto.BlockResponse, proto.ChainResponse, proto.PeerListResponse:
		p.log.Debug("response received", zap.String("peer", peerID), zap.String("kind", string(env.Kind)))
	}
	if reply == nil {
		return proto.Envelope{}, false
	}
	out, err := p.Seal(reply)
	if err != nil {
		p.log.Error("seal reply failed", zap.String("kind", string(reply.Kind())), zap.Error(err))
		return proto.Envelope{}, false
	}
	return out, true
}

// HandleWire decodes one encoded envelope from peerID, handles it and
// encodes the reply.
func (p *Protocol) HandleWire(peerID string, data []byte) ([]byte, bool) {
	if _, ok := p.peers.Get(peerID); !ok {
		p.drop(peerID, "", metrics.DropUnknownPeer)
		return nil, false
	}
	env, err := proto.Unmarshal(data)
	if err != nil {
		p.drop(peerID, "", metrics.DropDecode)
		p.log.Debug("decode failed", zap.String("peer", peerID), zap.Error(err))
		return nil, false
	}
	reply, ok := p.HandleMessage(peerID, env)
	if !ok {
		return nil, false
	}
	out, err := proto.Marshal(reply)
	if err != nil {
		p.log.Error("encode reply failed", zap.String("kind", string(reply.Kind)), zap.Error(err))
		return nil, false
	}
	return out, true
}

func (p *Protocol) onHandshake(msg proto.Handshake) proto.Payload {
	head := p.ledger.LatestBlock()
	p.log.Debug("handshake", zap.Int64("remote_index", msg.Index), zap.Int64("local_index", head.Index))
	return proto.Handshake{Index: head.Index, Hash: head.Hash, NodeKind: p.nodeKind}
}

// onBlockAnnouncement acknowledges the block without applying it. A block for
// the height being mined locally aborts that search.
func (p *Protocol) onBlockAnnouncement(peerID string, msg proto.BlockAnnouncement) proto.Payload {
	if msg.Block == nil {
		return nil
	}
	head := p.ledger.LatestBlock()
	if msg.Block.Index == head.Index+1 && p.ledger.AbortMining(msg.Block.Index) {
		p.log.Info("competing block, local mining aborted",
			zap.String("peer", peerID), zap.Int64("index", msg.Block.Index))
	}
	p.adjustReputation(peerID, reputationGoodMessage)
	return proto.BlockAnnouncement{Ack: msg.Block.Hash}
}

func (p *Protocol) onTransactionAnnouncement(peerID string, msg proto.TransactionAnnouncement) proto.Payload {
	if msg.Transaction == nil {
		return nil
	}
	tx, ok := p.ledger.AddTransaction(block.TxDraft{
		From:   msg.Transaction.From,
		To:     msg.Transaction.To,
		Amount: msg.Transaction.Amount,
		Data:   msg.Transaction.Data,
	})
	if !ok {
		p.log.Debug("announced transaction not admitted", zap.String("peer", peerID))
		return nil
	}
	p.adjustReputation(peerID, reputationGoodMessage)
	return proto.TransactionAnnouncement{Ack: tx.ID}
}

func (p *Protocol) peersExcept(id string) []node.NetworkNode {
	all := p.peers.List()
	out := make([]node.NetworkNode, 0, len(all))
	for _, n := range all {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// chainSlice returns blocks start..end inclusive, clamped to the chain. An
// end of -1 selects through the head.
func chainSlice(chain []block.Block, start, end int64) []block.Block {
	n := int64(len(chain))
	if start < 0 {
		start = 0
	}
	if end == -1 || end >= n {
		end = n - 1
	}
	if start > end {
		return []block.Block{}
	}
	return chain[start : end+1]
}

// BroadcastTransaction seals a transaction announcement and, with a
// transport, sends it to every peer.
func (p *Protocol) BroadcastTransaction(ctx context.Context, tx block.Transaction) (proto.Envelope, error) {
	return p.broadcast(ctx, proto.TransactionAnnouncement{Transaction: &tx})
}

func (p *Protocol) BroadcastBlock(ctx context.Context, b block.Block) (proto.Envelope, error) {
	b = b.Clone()
	return p.broadcast(ctx, proto.BlockAnnouncement{Block: &b})
}

func (p *Protocol) broadcast(ctx context.Context, payload proto.Payload) (proto.Envelope, error) {
	env, err := p.Seal(payload)
	if err != nil {
		return proto.Envelope{}, fmt.Errorf("seal %s: %w", payload.Kind(), err)
	}
	if p.transport == nil {
		return env, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range p.peers.List() {
		id := n.ID
		g.Go(func() error {
			if err := p.transport.Send(gctx, id, env); err != nil {
				return fmt.Errorf("send %s to %s: %w", env.Kind, id, err)
			}
			return nil
		})
	}
	return env, g.Wait()
}

func (p *Protocol) drop(peerID string, kind proto.Kind, reason string) {
	p.metrics.IncDropByReason(reason)
	p.log.Debug("message dropped",
		zap.String("peer", peerID),
		zap.String("kind", string(kind)),
		zap.String("reason", reason),
	)
}

func (p *Protocol) adjustReputation(peerID string, delta int) {
	if p.registry == nil {
		return
	}
	n, ok := p.registry.Get(peerID)
	if !ok {
		return
	}
	n = p.registry.AdjustReputation(n, delta)
	p.peers.Update(n)
}
