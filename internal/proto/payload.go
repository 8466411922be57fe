package proto

import (
	"fmt"

	"ledgernode/internal/block"
	"ledgernode/internal/node"
)

// Payload is the kind-specific body of an envelope. Each kind has exactly
// one payload type.
type Payload interface {
	Kind() Kind
}

// Handshake carries the sender's chain head. Replies use the same shape.
type Handshake struct {
	Index    int64     `cbor:"index" json:"index"`
	Hash     string    `cbor:"hash" json:"hash"`
	NodeKind node.Kind `cbor:"node_kind" json:"node_kind"`
}

// BlockAnnouncement carries a block. A reply sets Ack to the block hash and
// leaves Block nil.
type BlockAnnouncement struct {
	Block *block.Block `cbor:"block,omitempty" json:"block,omitempty"`
	Ack   string       `cbor:"ack,omitempty" json:"ack,omitempty"`
}

// TransactionAnnouncement carries a transaction. A reply sets Ack to the id
// the receiving ledger assigned.
type TransactionAnnouncement struct {
	Transaction *block.Transaction `cbor:"transaction,omitempty" json:"transaction,omitempty"`
	Ack         string             `cbor:"ack,omitempty" json:"ack,omitempty"`
}

type BlockRequest struct {
	Hash string `cbor:"hash" json:"hash"`
}

type BlockResponse struct {
	Block block.Block `cbor:"block" json:"block"`
}

// ChainRequest asks for blocks Start..End inclusive. End -1 means the head.
type ChainRequest struct {
	Start int64 `cbor:"start" json:"start"`
	End   int64 `cbor:"end" json:"end"`
}

type ChainResponse struct {
	Blocks []block.Block `cbor:"blocks" json:"blocks"`
}

type PeerListRequest struct{}

type PeerListResponse struct {
	Peers []node.NetworkNode `cbor:"peers" json:"peers"`
}

func (Handshake) Kind() Kind               { return KindHandshake }
func (BlockAnnouncement) Kind() Kind       { return KindBlockAnnouncement }
func (TransactionAnnouncement) Kind() Kind { return KindTransactionAnnouncement }
func (BlockRequest) Kind() Kind            { return KindBlockRequest }
func (BlockResponse) Kind() Kind           { return KindBlockResponse }
func (ChainRequest) Kind() Kind            { return KindChainRequest }
func (ChainResponse) Kind() Kind           { return KindChainResponse }
func (PeerListRequest) Kind() Kind         { return KindPeerListRequest }
func (PeerListResponse) Kind() Kind        { return KindPeerListResponse }

func decodePayload(k Kind, raw []byte) (Payload, error) {
	switch k {
	case KindHandshake:
		return decodeAs[Handshake](raw)
	case KindBlockAnnouncement:
		return decodeAs[BlockAnnouncement](raw)
	case KindTransactionAnnouncement:
		return decodeAs[TransactionAnnouncement](raw)
	case KindBlockRequest:
		return decodeAs[BlockRequest](raw)
	case KindBlockResponse:
		return decodeAs[BlockResponse](raw)
	case KindChainRequest:
		return decodeAs[ChainRequest](raw)
	case KindChainResponse:
		return decodeAs[ChainResponse](raw)
	case KindPeerListRequest:
		return decodeAs[PeerListRequest](raw)
	case KindPeerListResponse:
		return decodeAs[PeerListResponse](raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
}

func decodeAs[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Kind(), err)
	}
	return p, nil
}
