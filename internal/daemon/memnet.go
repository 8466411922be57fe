package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ledgernode/internal/proto"
)

var ErrUnreachable = errors.New("peer unreachable")

// Handler consumes one encoded envelope from a peer and optionally returns
// an encoded reply. p2p.Protocol.HandleWire satisfies it.
type Handler interface {
	HandleWire(peerID string, data []byte) ([]byte, bool)
}

// MemNetwork delivers framed envelopes between in-process nodes. Delivery
// is synchronous: Send returns after the recipient has handled the message
// and the sender has handled any reply.
type MemNetwork struct {
	mu    sync.RWMutex
	hosts map[string]Handler
	log   *zap.Logger
}

func NewMemNetwork(log *zap.Logger) *MemNetwork {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemNetwork{hosts: make(map[string]Handler), log: log.Named("memnet")}
}

func (n *MemNetwork) Attach(nodeID string, h Handler) {
	n.mu.Lock()
	n.hosts[nodeID] = h
	n.mu.Unlock()
}

func (n *MemNetwork) Detach(nodeID string) {
	n.mu.Lock()
	delete(n.hosts, nodeID)
	n.mu.Unlock()
}

func (n *MemNetwork) host(nodeID string) (Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.hosts[nodeID]
	return h, ok
}

// Transport returns the sending side for the node attached as localID.
func (n *MemNetwork) Transport(localID string) *MemTransport {
	return &MemTransport{net: n, local: localID}
}

type MemTransport struct {
	net   *MemNetwork
	local string
}

func (t *MemTransport) Send(ctx context.Context, peerID string, env proto.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, ok := t.net.host(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnreachable, peerID)
	}
	var wire bytes.Buffer
	if err := proto.WriteEnvelope(&wire, env); err != nil {
		return err
	}
	data, err := proto.ReadFrame(&wire)
	if err != nil {
		return err
	}
	reply, ok := target.HandleWire(t.local, data)
	if !ok {
		return nil
	}
	if self, ok := t.net.host(t.local); ok {
		self.HandleWire(peerID, reply)
	}
	return nil
}
