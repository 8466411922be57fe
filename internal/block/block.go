// Package block defines the ledger's block and transaction model and the
// canonical byte layouts used for hashing and MACs.
package block

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"ledgernode/internal/crypto"
)

// GenesisPreviousHash is the previousHash carried by block 0.
const GenesisPreviousHash = "0"

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("block: canonical cbor mode: " + err.Error())
	}
	encMode = em
}

// TxDraft is the caller-supplied part of a transaction before the ledger
// assigns an id, timestamp and signature.
type TxDraft struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Data   string `json:"data,omitempty"`
}

type Transaction struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type Block struct {
	Index        int64         `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previous_hash"`
	Hash         string        `json:"hash"`
	Nonce        uint64        `json:"nonce"`
	Validator    string        `json:"validator"`
	Signature    string        `json:"signature,omitempty"`
}

type headerFields struct {
	Index        int64         `cbor:"index"`
	Timestamp    int64         `cbor:"timestamp"`
	Transactions []Transaction `cbor:"transactions"`
	PreviousHash string        `cbor:"previous_hash"`
	Validator    string        `cbor:"validator"`
}

type txFields struct {
	ID        string `cbor:"id"`
	From      string `cbor:"from"`
	To        string `cbor:"to"`
	Amount    uint64 `cbor:"amount"`
	Timestamp int64  `cbor:"timestamp"`
	Data      string `cbor:"data"`
}

// NewTxID derives a transaction id from the draft content and the admission time.
func NewTxID(d TxDraft, now time.Time) string {
	raw, err := json.Marshal(d)
	if err != nil {
		raw = []byte(d.From + d.To + d.Data)
	}
	raw = strconv.AppendInt(raw, now.UnixNano(), 10)
	return crypto.Hash(raw)
}

// SigningBytes is the canonical encoding of every transaction field except
// the signature.
func (t Transaction) SigningBytes() []byte {
	b, err := encMode.Marshal(txFields{
		ID:        t.ID,
		From:      t.From,
		To:        t.To,
		Amount:    t.Amount,
		Timestamp: t.Timestamp,
		Data:      t.Data,
	})
	if err != nil {
		return nil
	}
	return b
}

// HeaderPrefix is the canonical encoding of the hashed block fields other
// than the nonce. Mining reuses it across nonce attempts.
func (b Block) HeaderPrefix() []byte {
	txs := b.Transactions
	if txs == nil {
		txs = []Transaction{}
	}
	out, err := encMode.Marshal(headerFields{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Transactions: txs,
		PreviousHash: b.PreviousHash,
		Validator:    b.Validator,
	})
	if err != nil {
		return nil
	}
	return out
}

// HashWithNonce hashes prefix || big-endian nonce.
func HashWithNonce(prefix []byte, nonce uint64) string {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], nonce)
	return crypto.Hash(buf)
}

// ComputeHash recomputes the block hash from index, timestamp, transactions,
// previousHash, nonce and validator.
func (b Block) ComputeHash() string {
	return HashWithNonce(b.HeaderPrefix(), b.Nonce)
}

// SigningBytes covers every block field except the signature.
func (b Block) SigningBytes() []byte {
	prefix := b.HeaderPrefix()
	buf := make([]byte, 0, len(prefix)+8+len(b.Hash))
	buf = append(buf, prefix...)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], b.Nonce)
	buf = append(buf, tmp[:]...)
	buf = append(buf, b.Hash...)
	return buf
}

// Clone returns a deep copy.
func (b Block) Clone() Block {
	out := b
	if b.Transactions != nil {
		out.Transactions = make([]Transaction, len(b.Transactions))
		copy(out.Transactions, b.Transactions)
	}
	return out
}

func CloneAll(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i := range blocks {
		out[i] = blocks[i].Clone()
	}
	return out
}
