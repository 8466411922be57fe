package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledgernode/internal/block"
)

// Miner mines a block on every tick while the pending pool is non-empty.
type Miner struct {
	ledger   *Ledger
	interval time.Duration
	log      *zap.Logger
	onBlock  func(context.Context, block.Block)
}

func NewMiner(l *Ledger, interval time.Duration, log *zap.Logger) *Miner {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Miner{ledger: l, interval: interval, log: log.Named("miner")}
}

// OnBlock registers fn to run after each block this miner commits. It must
// be set before Run.
func (m *Miner) OnBlock(fn func(context.Context, block.Block)) {
	m.onBlock = fn
}

// Run blocks until ctx is done. An in-flight search is cancelled with ctx.
func (m *Miner) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Debug("miner started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("miner stopped")
			return nil
		case <-ticker.C:
			b, ok := m.ledger.MineBlockContext(ctx)
			if !ok {
				continue
			}
			m.log.Debug("tick mined", zap.Int64("index", b.Index))
			if m.onBlock != nil {
				m.onBlock(ctx, b)
			}
		}
	}
}
