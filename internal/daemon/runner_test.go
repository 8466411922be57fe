package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ledgernode/internal/block"
	"ledgernode/internal/config"
	"ledgernode/internal/consensus"
	"ledgernode/internal/metrics"
	"ledgernode/internal/node"
	"ledgernode/internal/proto"
)

const (
	keyA = "identity-a"
	keyB = "identity-b"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(key string, port int) config.Config {
	cfg := config.Default()
	cfg.PublicKey = key
	cfg.PrivateKey = key
	cfg.NodeKind = node.KindValidator
	cfg.Port = port
	cfg.Algorithm = consensus.ProofOfAuthority
	cfg.Authorities = []string{keyA, keyB}
	cfg.Difficulty = 1
	cfg.BlockInterval = 10 * time.Millisecond
	return cfg
}

func newNetworkPair(t *testing.T, mutate func(*config.Config)) (*Runner, *Runner, *MemNetwork) {
	t.Helper()
	net := NewMemNetwork(nil)
	cfgA, cfgB := testConfig(keyA, 7401), testConfig(keyB, 7402)
	if mutate != nil {
		mutate(&cfgA)
		mutate(&cfgB)
	}
	idA := node.DeriveNodeID(cfgA.PublicKey, cfgA.Address, cfgA.Port)
	idB := node.DeriveNodeID(cfgB.PublicKey, cfgB.Address, cfgB.Port)
	a, err := NewRunner(cfgA, Options{Transport: net.Transport(idA)})
	require.NoError(t, err)
	b, err := NewRunner(cfgB, Options{Transport: net.Transport(idB)})
	require.NoError(t, err)
	require.Equal(t, idA, a.NodeID)
	net.Attach(a.NodeID, a.Protocol)
	net.Attach(b.NodeID, b.Protocol)
	require.NoError(t, Connect(a, b))
	return a, b, net
}

func TestAuthorityScenarioOverMemNetwork(t *testing.T) {
	a, b, _ := newNetworkPair(t, nil)
	require.Len(t, a.Engine.GetValidators(), 2, "self and the admitted peer")
	require.Len(t, a.Protocol.GetPeers(), 1)

	tx, err := a.Submit(context.Background(), block.TxDraft{From: keyA, To: keyB, Amount: 10})
	require.NoError(t, err)
	require.NotEmpty(t, tx.Signature)
	pendingB := b.Ledger.PendingTransactions()
	require.Len(t, pendingB, 1)
	require.Equal(t, uint64(10), pendingB[0].Amount)

	mined, ok := a.Mine(context.Background())
	require.True(t, ok)
	require.Equal(t, []block.Transaction{tx}, mined.Transactions)

	snapB := b.Metrics.Snapshot()
	require.EqualValues(t, 1, snapB.RecvByKind[string(proto.KindBlockAnnouncement)])
	require.EqualValues(t, 1, snapB.RecvByKind[string(proto.KindTransactionAnnouncement)])
	snapA := a.Metrics.Snapshot()
	require.EqualValues(t, 1, snapA.RecvByKind[string(proto.KindBlockAnnouncement)], "ack handled by sender")
	require.Empty(t, snapA.DropByReason)

	parent := a.Ledger.Chain()[0]
	require.True(t, b.Engine.VerifyBlock(mined, parent))
	b.Engine.Deauthorize(keyA)
	require.False(t, b.Engine.VerifyBlock(mined, parent))

	got, ok := b.Registry.Get(a.NodeID)
	require.True(t, ok)
	require.Equal(t, node.InitialReputation+2, got.Reputation)
}

func TestSendToDetachedPeer(t *testing.T) {
	a, b, net := newNetworkPair(t, nil)
	net.Detach(b.NodeID)
	_, err := a.Submit(context.Background(), block.TxDraft{From: keyA, To: keyB, Amount: 1})
	require.ErrorIs(t, err, ErrUnreachable)
	require.Len(t, a.Ledger.PendingTransactions(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Submit(ctx, block.TxDraft{From: keyA, To: keyB, Amount: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunMinesAndWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	a, b, _ := newNetworkPair(t, func(c *config.Config) {
		c.MetricsPath = filepath.Join(dir, c.PublicKey+".json")
		c.SnapshotInterval = 5 * time.Millisecond
		c.DiagAddr = "127.0.0.1:0"
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	_, err := a.Submit(ctx, block.TxDraft{From: keyA, To: keyB, Amount: 3})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.Ledger.LatestBlock().Index == 1 &&
			b.Metrics.Snapshot().RecvByKind[string(proto.KindBlockAnnouncement)] == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	data, err := os.ReadFile(a.Config.MetricsPath)
	require.NoError(t, err)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.EqualValues(t, 1, snap.Chain.BlocksMined)
	require.EqualValues(t, 1, snap.Chain.Height)
}

func TestAdmitRejectsWrongKey(t *testing.T) {
	a, err := NewRunner(testConfig(keyA, 7401), Options{})
	require.NoError(t, err)
	impostorCfg := testConfig(keyB, 7402)
	impostorCfg.PrivateKey = "not-" + keyB
	impostor, err := NewRunner(impostorCfg, Options{})
	require.NoError(t, err)

	n, err := a.Admit(impostor)
	require.True(t, errors.Is(err, ErrChallengeFailed))
	require.Equal(t, node.StatusRejected, n.Status)
	require.Empty(t, a.Protocol.GetPeers())
	validators := a.Engine.GetValidators()
	require.Len(t, validators, 1)
	require.Equal(t, a.NodeID, validators[0].ID)
}

func TestProofOfStakeNodeMinesOwnBlocks(t *testing.T) {
	cfg := testConfig(keyA, 7401)
	cfg.Algorithm = consensus.ProofOfStake
	cfg.Authorities = nil
	cfg.Difficulty = 0
	a, err := NewRunner(cfg, Options{})
	require.NoError(t, err)
	require.Len(t, a.Engine.GetValidators(), 1)

	_, err = a.Submit(context.Background(), block.TxDraft{From: keyA, To: keyB, Amount: 3})
	require.NoError(t, err)
	mined, ok := a.Mine(context.Background())
	require.True(t, ok)
	require.EqualValues(t, 1, mined.Index)
	require.Empty(t, a.Ledger.PendingTransactions())

	full := testConfig(keyB, 7402)
	full.Algorithm = consensus.ProofOfStake
	full.NodeKind = node.KindFull
	b, err := NewRunner(full, Options{})
	require.NoError(t, err)
	require.Empty(t, b.Engine.GetValidators(), "full nodes do not produce blocks")
}

func TestJournalSurvivesRestart(t *testing.T) {
	cfg := testConfig(keyA, 7401)
	cfg.JournalPath = filepath.Join(t.TempDir(), "chain.jsonl")
	a, err := NewRunner(cfg, Options{})
	require.NoError(t, err)
	_, err = a.Submit(context.Background(), block.TxDraft{From: keyA, To: keyB, Amount: 4})
	require.NoError(t, err)
	mined, ok := a.Mine(context.Background())
	require.True(t, ok)

	restarted, err := NewRunner(cfg, Options{})
	require.NoError(t, err)
	require.Equal(t, mined, restarted.Ledger.LatestBlock())
	require.True(t, restarted.Ledger.ValidateChain())
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	_, err := NewRunner(config.Default(), Options{})
	require.ErrorIs(t, err, config.ErrMissingIdentity)
}
