// Package ledger owns the block chain and the pending transaction pool.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgernode/internal/block"
	"ledgernode/internal/crypto"
	"ledgernode/internal/metrics"
	"ledgernode/internal/store"
)

const (
	DefaultMaxPending   = 10_000
	DefaultMaxBlockSize = 1_000
)

var ErrInvalidJournal = errors.New("journaled chain failed validation")

// Consensus is the block acceptance rule the ledger defers to.
type Consensus interface {
	VerifyBlock(candidate, parent block.Block) bool
	Difficulty() int
}

type Options struct {
	PublicKey    string
	PrivateKey   string
	MaxPending   int
	MaxBlockSize int
	// Journal, when set, receives every appended block and is replayed on start.
	Journal *store.Journal
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Ledger struct {
	mu      sync.Mutex
	chain   []block.Block
	pending []block.Transaction

	consensus    Consensus
	publicKey    string
	privateKey   string
	maxPending   int
	maxBlockSize int
	journal      *store.Journal
	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	miningMu sync.Mutex
	miningID uint64
	mining   map[int64]map[uint64]context.CancelFunc
}

// New builds a ledger. Without a journal, or with an empty one, it creates a
// fresh genesis block; otherwise it restores the journaled chain and refuses
// to start if that chain does not validate.
func New(c Consensus, opts Options) (*Ledger, error) {
	if c == nil {
		return nil, fmt.Errorf("missing consensus")
	}
	l := &Ledger{
		consensus:    c,
		publicKey:    opts.PublicKey,
		privateKey:   opts.PrivateKey,
		maxPending:   opts.MaxPending,
		maxBlockSize: opts.MaxBlockSize,
		journal:      opts.Journal,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		mining:       make(map[int64]map[uint64]context.CancelFunc),
	}
	if l.maxPending <= 0 {
		l.maxPending = DefaultMaxPending
	}
	if l.maxBlockSize <= 0 {
		l.maxBlockSize = DefaultMaxBlockSize
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.Named("ledger")
	if l.now == nil {
		l.now = time.Now
	}
	if l.journal != nil {
		restored, err := l.journal.Load()
		if err != nil {
			return nil, fmt.Errorf("load journal: %w", err)
		}
		if len(restored) > 0 {
			l.chain = restored
			if !validGenesis(restored[0]) || !l.ValidateChain() {
				return nil, fmt.Errorf("%w: %s", ErrInvalidJournal, l.journal.Path())
			}
			l.log.Info("chain restored", zap.Int("blocks", len(restored)), zap.String("path", l.journal.Path()))
			l.metrics.SetChainHeight(l.chain[len(l.chain)-1].Index)
			return l, nil
		}
	}
	g := l.genesis()
	if l.journal != nil {
		if err := l.journal.Append(g); err != nil {
			return nil, fmt.Errorf("journal genesis: %w", err)
		}
	}
	l.chain = []block.Block{g}
	l.metrics.SetChainHeight(0)
	return l, nil
}

func (l *Ledger) genesis() block.Block {
	g := block.Block{
		Index:        0,
		Timestamp:    l.now().UnixMilli(),
		Transactions: []block.Transaction{},
		PreviousHash: block.GenesisPreviousHash,
		Validator:    l.publicKey,
	}
	g.Hash = g.ComputeHash()
	g.Signature = crypto.Sign(g.SigningBytes(), l.privateKey)
	return g
}

func validGenesis(g block.Block) bool {
	return g.Index == 0 && g.PreviousHash == block.GenesisPreviousHash && g.ComputeHash() == g.Hash
}

// AddTransaction admits a draft into the pending pool. It returns false when
// the pool is at capacity. Only drafts originating from the local identity
// are signed.
func (l *Ledger) AddTransaction(d block.TxDraft) (block.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) >= l.maxPending {
		l.metrics.IncTxRejected()
		l.log.Debug("pending pool full", zap.Int("size", len(l.pending)))
		return block.Transaction{}, false
	}
	now := l.now()
	tx := block.Transaction{
		ID:        block.NewTxID(d, now),
		From:      d.From,
		To:        d.To,
		Amount:    d.Amount,
		Timestamp: now.UnixMilli(),
		Data:      d.Data,
	}
	if d.From == l.publicKey {
		tx.Signature = crypto.Sign(tx.SigningBytes(), l.privateKey)
	}
	l.pending = append(l.pending, tx)
	l.metrics.IncTxAdmitted()
	l.metrics.SetPending(len(l.pending))
	return tx, true
}

// MineBlock runs MineBlockContext without a deadline.
func (l *Ledger) MineBlock() (block.Block, bool) {
	return l.MineBlockContext(context.Background())
}

// MineBlockContext packs up to MaxBlockSize pending transactions into a block
// on top of the current head and searches for a nonce meeting the consensus
// difficulty. The search runs without holding the ledger lock and stops when
// ctx is done or AbortMining is called for the block's height. The block is
// committed only if it verifies against the head at commit time and the
// consumed transactions are still at the front of the pool.
func (l *Ledger) MineBlockContext(ctx context.Context) (block.Block, bool) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return block.Block{}, false
	}
	n := len(l.pending)
	if n > l.maxBlockSize {
		n = l.maxBlockSize
	}
	txs := make([]block.Transaction, n)
	copy(txs, l.pending[:n])
	head := l.chain[len(l.chain)-1]
	l.mu.Unlock()

	ts := l.now().UnixMilli()
	if ts <= head.Timestamp {
		ts = head.Timestamp + 1
	}
	candidate := block.Block{
		Index:        head.Index + 1,
		Timestamp:    ts,
		Transactions: txs,
		PreviousHash: head.Hash,
		Validator:    l.publicKey,
	}

	mineCtx, done := l.trackMining(ctx, candidate.Index)
	defer done()
	prefix := candidate.HeaderPrefix()
	nonce, hash, ok := crypto.SolveWork(mineCtx, l.consensus.Difficulty(), func(nonce uint64) string {
		return block.HashWithNonce(prefix, nonce)
	})
	if !ok {
		l.metrics.IncMiningAborted()
		l.log.Debug("mining aborted", zap.Int64("index", candidate.Index))
		return block.Block{}, false
	}
	candidate.Nonce = nonce
	candidate.Hash = hash
	candidate.Signature = crypto.Sign(candidate.SigningBytes(), l.privateKey)

	l.mu.Lock()
	defer l.mu.Unlock()
	parent := l.chain[len(l.chain)-1]
	if !l.consensus.VerifyBlock(candidate, parent) {
		l.metrics.IncMiningRejected()
		l.log.Debug("mined block rejected", zap.Int64("index", candidate.Index))
		return block.Block{}, false
	}
	if !l.pendingPrefixLocked(txs) {
		l.metrics.IncMiningRejected()
		l.log.Debug("pending pool changed under mining", zap.Int64("index", candidate.Index))
		return block.Block{}, false
	}
	if l.journal != nil {
		if err := l.journal.Append(candidate); err != nil {
			l.log.Error("journal append failed", zap.Int64("index", candidate.Index), zap.Error(err))
			return block.Block{}, false
		}
	}
	l.chain = append(l.chain, candidate)
	rest := make([]block.Transaction, len(l.pending)-n)
	copy(rest, l.pending[n:])
	l.pending = rest

	l.metrics.IncBlocksMined()
	l.metrics.SetChainHeight(candidate.Index)
	l.metrics.SetPending(len(l.pending))
	l.log.Info("block mined",
		zap.Int64("index", candidate.Index),
		zap.String("hash", candidate.Hash),
		zap.Int("txs", n),
		zap.Uint64("nonce", nonce),
	)
	return candidate.Clone(), true
}

func (l *Ledger) pendingPrefixLocked(txs []block.Transaction) bool {
	if len(l.pending) < len(txs) {
		return false
	}
	for i := range txs {
		if l.pending[i].ID != txs[i].ID {
			return false
		}
	}
	return true
}

// AbortMining cancels every in-flight search for a block at height. It
// reports whether any search was cancelled.
func (l *Ledger) AbortMining(height int64) bool {
	l.miningMu.Lock()
	defer l.miningMu.Unlock()
	searches := l.mining[height]
	for _, cancel := range searches {
		cancel()
	}
	delete(l.mining, height)
	if len(searches) > 0 {
		l.log.Debug("mining abort requested", zap.Int64("index", height), zap.Int("searches", len(searches)))
	}
	return len(searches) > 0
}

func (l *Ledger) trackMining(ctx context.Context, height int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	l.miningMu.Lock()
	l.miningID++
	id := l.miningID
	if l.mining[height] == nil {
		l.mining[height] = make(map[uint64]context.CancelFunc)
	}
	l.mining[height][id] = cancel
	l.miningMu.Unlock()
	return ctx, func() {
		cancel()
		l.miningMu.Lock()
		if m := l.mining[height]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(l.mining, height)
			}
		}
		l.miningMu.Unlock()
	}
}

// ValidateChain verifies every block after genesis against its parent.
func (l *Ledger) ValidateChain() bool {
	l.mu.Lock()
	chain := block.CloneAll(l.chain)
	l.mu.Unlock()
	for i := 1; i < len(chain); i++ {
		if !l.consensus.VerifyBlock(chain[i], chain[i-1]) {
			l.log.Debug("chain invalid", zap.Int64("index", chain[i].Index))
			return false
		}
	}
	return true
}

func (l *Ledger) LatestBlock() block.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain[len(l.chain)-1].Clone()
}

// Chain returns a deep copy of the chain.
func (l *Ledger) Chain() []block.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return block.CloneAll(l.chain)
}

func (l *Ledger) PendingTransactions() []block.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]block.Transaction, len(l.pending))
	copy(out, l.pending)
	return out
}

func (l *Ledger) PublicKey() string {
	return l.publicKey
}
