// Package daemon wires the ledger components into a running node.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgernode/internal/block"
	"ledgernode/internal/config"
	"ledgernode/internal/consensus"
	"ledgernode/internal/diag"
	"ledgernode/internal/ledger"
	"ledgernode/internal/metrics"
	"ledgernode/internal/node"
	"ledgernode/internal/p2p"
	"ledgernode/internal/store"
)

var (
	ErrPoolFull        = errors.New("pending pool full")
	ErrChallengeFailed = errors.New("challenge response rejected")
)

type Runner struct {
	Config   config.Config
	NodeID   string
	Registry *node.Registry
	Engine   *consensus.Engine
	Ledger   *ledger.Ledger
	Protocol *p2p.Protocol
	Metrics  *metrics.Metrics

	miner *ledger.Miner
	log   *zap.Logger
}

type Options struct {
	// Transport is optional; without it broadcasts only build envelopes.
	Transport p2p.Transport
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewRunner(cfg config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	var journal *store.Journal
	if cfg.JournalPath != "" {
		j, err := store.OpenJournal(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = j
	}

	engine := consensus.NewEngine(cfg.Consensus(), log)
	reg := node.NewRegistry(node.Options{Now: opts.Now, Logger: log})
	l, err := ledger.New(engine, ledger.Options{
		PublicKey:    cfg.PublicKey,
		PrivateKey:   cfg.PrivateKey,
		MaxPending:   cfg.MaxPending,
		MaxBlockSize: cfg.MaxBlockSize,
		Journal:      journal,
		Logger:       log,
		Metrics:      m,
		Now:          opts.Now,
	})
	if err != nil {
		return nil, err
	}
	protocol, err := p2p.New(p2p.Options{
		PublicKey:  cfg.PublicKey,
		PrivateKey: cfg.PrivateKey,
		NodeKind:   cfg.NodeKind,
		Ledger:     l,
		Registry:   reg,
		Transport:  opts.Transport,
		Logger:     log,
		Metrics:    m,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	r := &Runner{
		Config:   cfg,
		NodeID:   node.DeriveNodeID(cfg.PublicKey, cfg.Address, cfg.Port),
		Registry: reg,
		Engine:   engine,
		Ledger:   l,
		Protocol: protocol,
		Metrics:  m,
		miner:    ledger.NewMiner(l, cfg.BlockInterval, log),
		log:      log.Named("daemon"),
	}
	r.miner.OnBlock(r.announce)
	r.joinValidators()
	return r, nil
}

// joinValidators puts a block-producing node in its own validator set so
// the blocks it mines satisfy the stake rule. Under proof-of-authority the
// engine still requires an authorized key.
func (r *Runner) joinValidators() {
	if r.Config.NodeKind != node.KindValidator && r.Config.NodeKind != node.KindMiner {
		return
	}
	self := r.Registry.Register(r.Config.PublicKey, r.Config.NodeKind, r.Config.Address, r.Config.Port)
	self = r.Registry.SetStatus(self, node.StatusAuthenticated)
	if !r.Engine.AddValidator(self) {
		r.log.Info("local node not in validator set", zap.String("node_id", self.ID))
	}
}

// Run mines and writes metrics snapshots until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("node started",
		zap.String("node_id", r.NodeID),
		zap.String("algorithm", string(r.Engine.Algorithm())),
		zap.Int("difficulty", r.Engine.Difficulty()),
		zap.Int64("height", r.Ledger.LatestBlock().Index),
	)
	var srv *diag.Server
	if r.Config.DiagAddr != "" {
		s, err := diag.Start(r.Config.DiagAddr, r.Metrics.Registry(), r.log)
		if err != nil {
			return err
		}
		srv = s
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.miner.Run(gctx)
	})
	if r.Config.MetricsPath != "" {
		g.Go(func() error {
			return r.snapshotLoop(gctx)
		})
	}
	if srv != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err := g.Wait()
	r.log.Info("node stopped", zap.Int64("height", r.Ledger.LatestBlock().Index))
	return err
}

func (r *Runner) snapshotLoop(ctx context.Context) error {
	interval := r.Config.SnapshotInterval
	if interval <= 0 {
		interval = config.DefaultSnapshotInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.Metrics.WriteSnapshot(r.Config.MetricsPath)
		case <-ticker.C:
			if err := r.Metrics.WriteSnapshot(r.Config.MetricsPath); err != nil {
				r.log.Warn("metrics snapshot failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) announce(ctx context.Context, b block.Block) {
	if _, err := r.Protocol.BroadcastBlock(ctx, b); err != nil {
		r.log.Warn("block broadcast incomplete", zap.Int64("index", b.Index), zap.Error(err))
	}
}

// Submit admits a transaction locally and announces it to every peer.
func (r *Runner) Submit(ctx context.Context, d block.TxDraft) (block.Transaction, error) {
	tx, ok := r.Ledger.AddTransaction(d)
	if !ok {
		return block.Transaction{}, ErrPoolFull
	}
	if _, err := r.Protocol.BroadcastTransaction(ctx, tx); err != nil {
		return tx, err
	}
	return tx, nil
}

// Mine produces one block outside the background miner and announces it.
func (r *Runner) Mine(ctx context.Context) (block.Block, bool) {
	b, ok := r.Ledger.MineBlockContext(ctx)
	if ok {
		r.announce(ctx, b)
	}
	return b, ok
}

// Respond answers a challenge issued by another node.
func (r *Runner) Respond(ch node.AuthChallenge) string {
	return node.Respond(ch, r.Config.PrivateKey)
}

// Admit authenticates remote through a challenge exchange and adds it as a
// peer. Validator nodes also join the consensus validator set.
func (r *Runner) Admit(remote *Runner) (node.NetworkNode, error) {
	rc := remote.Config
	n := r.Registry.Register(rc.PublicKey, rc.NodeKind, rc.Address, rc.Port)
	ch := r.Registry.IssueChallenge()
	if !r.Registry.VerifyResponse(ch, remote.Respond(ch), rc.PublicKey) {
		n = r.Registry.SetStatus(n, node.StatusRejected)
		return n, fmt.Errorf("%w: %s", ErrChallengeFailed, n.ID)
	}
	n = r.Registry.SetStatus(n, node.StatusAuthenticated)
	if !r.Protocol.AddPeer(n) {
		return n, fmt.Errorf("peer %s not admitted", n.ID)
	}
	if n.Kind == node.KindValidator && !r.Engine.AddValidator(n) {
		r.log.Info("validator not authorized", zap.String("peer", n.ID))
	}
	return n, nil
}

// Connect admits a and b to each other.
func Connect(a, b *Runner) error {
	if _, err := a.Admit(b); err != nil {
		return err
	}
	_, err := b.Admit(a)
	return err
}
