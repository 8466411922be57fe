package proto

// Kind names one of the nine P2P message kinds.
type Kind string

const (
	KindHandshake               Kind = "HANDSHAKE"
	KindBlockAnnouncement       Kind = "BLOCK_ANNOUNCEMENT"
	KindTransactionAnnouncement Kind = "TRANSACTION_ANNOUNCEMENT"
	KindBlockRequest            Kind = "BLOCK_REQUEST"
	KindBlockResponse           Kind = "BLOCK_RESPONSE"
	KindChainRequest            Kind = "CHAIN_REQUEST"
	KindChainResponse           Kind = "CHAIN_RESPONSE"
	KindPeerListRequest         Kind = "PEER_LIST_REQUEST"
	KindPeerListResponse        Kind = "PEER_LIST_RESPONSE"
)

var kinds = []Kind{
	KindHandshake,
	KindBlockAnnouncement,
	KindTransactionAnnouncement,
	KindBlockRequest,
	KindBlockResponse,
	KindChainRequest,
	KindChainResponse,
	KindPeerListRequest,
	KindPeerListResponse,
}

// Kinds lists every message kind in declaration order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

func (k Kind) Valid() bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

const (
	smallMsgSize = 4 << 10
	txMsgSize    = 64 << 10
	blockMsgSize = 2 << 20
	peersMsgSize = 1 << 20
)

// MaxSizeForKind is the largest encoded envelope accepted for kind.
func MaxSizeForKind(k Kind) int {
	switch k {
	case KindHandshake, KindBlockRequest, KindChainRequest, KindPeerListRequest:
		return smallMsgSize
	case KindTransactionAnnouncement:
		return txMsgSize
	case KindBlockAnnouncement, KindBlockResponse:
		return blockMsgSize
	case KindPeerListResponse:
		return peersMsgSize
	case KindChainResponse:
		return MaxFrameSize
	}
	return 0
}
