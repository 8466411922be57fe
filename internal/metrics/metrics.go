package metrics

import (
	"encoding/json"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "ledger"

// Drop reasons for inbound P2P messages.
const (
	DropUnknownPeer = "unknown_peer"
	DropRate        = "rate"
	DropSignature   = "signature"
	DropDecode      = "decode"
)

type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Chain        ChainMetrics      `json:"chain"`
	RecvByKind   map[string]uint64 `json:"recv_by_kind"`
	DropByReason map[string]uint64 `json:"drop_by_reason"`
}

type ChainMetrics struct {
	Height        uint64 `json:"height"`
	Pending       uint64 `json:"pending"`
	BlocksMined   uint64 `json:"blocks_mined"`
	MiningAborted uint64 `json:"mining_aborted"`
	MiningFailed  uint64 `json:"mining_failed"`
	TxAdmitted    uint64 `json:"tx_admitted"`
	TxRejected    uint64 `json:"tx_rejected"`
}

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	registry      *prometheus.Registry
	recvByKind    *prometheus.CounterVec
	dropByReason  *prometheus.CounterVec
	blocksMined   prometheus.Counter
	miningAborted prometheus.Counter
	miningFailed  prometheus.Counter
	txAdmitted    prometheus.Counter
	txRejected    prometheus.Counter
	height        prometheus.Gauge
	pending       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recvByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "p2p", Name: "received_total",
			Help: "Inbound P2P messages accepted for handling, by kind.",
		}, []string{"kind"}),
		dropByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "p2p", Name: "dropped_total",
			Help: "Inbound P2P messages dropped, by reason.",
		}, []string{"reason"}),
		blocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "blocks_mined_total",
			Help: "Blocks mined locally and appended.",
		}),
		miningAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "mining_aborted_total",
			Help: "Mining attempts cancelled before a nonce was found.",
		}),
		miningFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "mining_rejected_total",
			Help: "Mined blocks discarded by consensus verification.",
		}),
		txAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mempool", Name: "admitted_total",
			Help: "Transactions admitted to the pending pool.",
		}),
		txRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mempool", Name: "rejected_total",
			Help: "Transactions rejected because the pending pool was full.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chain", Name: "height",
			Help: "Index of the chain head.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mempool", Name: "pending",
			Help: "Transactions waiting in the pending pool.",
		}),
	}
	m.registry.MustRegister(
		m.recvByKind, m.dropByReason,
		m.blocksMined, m.miningAborted, m.miningFailed,
		m.txAdmitted, m.txRejected,
		m.height, m.pending,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncRecvByKind(kind string) {
	if m == nil {
		return
	}
	m.recvByKind.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDropByReason(reason string) {
	if m == nil {
		return
	}
	m.dropByReason.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncBlocksMined() {
	if m == nil {
		return
	}
	m.blocksMined.Inc()
}

func (m *Metrics) IncMiningAborted() {
	if m == nil {
		return
	}
	m.miningAborted.Inc()
}

func (m *Metrics) IncMiningRejected() {
	if m == nil {
		return
	}
	m.miningFailed.Inc()
}

func (m *Metrics) IncTxAdmitted() {
	if m == nil {
		return
	}
	m.txAdmitted.Inc()
}

func (m *Metrics) IncTxRejected() {
	if m == nil {
		return
	}
	m.txRejected.Inc()
}

func (m *Metrics) SetChainHeight(h int64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		GeneratedAt:  time.Now().UTC(),
		RecvByKind:   map[string]uint64{},
		DropByReason: map[string]uint64{},
	}
	if m == nil {
		return snap
	}
	snap.Chain = ChainMetrics{
		Height:        gaugeValue(m.height),
		Pending:       gaugeValue(m.pending),
		BlocksMined:   counterValue(m.blocksMined),
		MiningAborted: counterValue(m.miningAborted),
		MiningFailed:  counterValue(m.miningFailed),
		TxAdmitted:    counterValue(m.txAdmitted),
		TxRejected:    counterValue(m.txRejected),
	}
	collectVec(m.recvByKind, "kind", snap.RecvByKind)
	collectVec(m.dropByReason, "reason", snap.DropByReason)
	return snap
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func counterValue(c prometheus.Counter) uint64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil || pb.GetCounter() == nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}

func gaugeValue(g prometheus.Gauge) uint64 {
	var pb dto.Metric
	if err := g.Write(&pb); err != nil || pb.GetGauge() == nil {
		return 0
	}
	v := pb.GetGauge().GetValue()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func collectVec(vec *prometheus.CounterVec, label string, out map[string]uint64) {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] = uint64(pb.GetCounter().GetValue())
			}
		}
	}
}
