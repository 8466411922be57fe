package node

import (
	"strconv"

	"ledgernode/internal/crypto"
)

type Kind string

const (
	KindValidator Kind = "validator"
	KindMiner     Kind = "miner"
	KindFull      Kind = "full"
	KindLight     Kind = "light"
)

func (k Kind) Valid() bool {
	switch k {
	case KindValidator, KindMiner, KindFull, KindLight:
		return true
	}
	return false
}

type Status string

const (
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	StatusRejected      Status = "rejected"
)

const (
	InitialReputation = 50
	MinReputation     = 0
	MaxReputation     = 100
)

type NetworkNode struct {
	ID         string `json:"id"`
	PublicKey  string `json:"public_key"`
	Kind       Kind   `json:"kind"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Status     Status `json:"status"`
	LastSeen   int64  `json:"last_seen"`
	Reputation int    `json:"reputation"`
}

// DeriveNodeID hashes publicKey || address || port.
func DeriveNodeID(publicKey, address string, port int) string {
	return crypto.HashString(publicKey + address + strconv.Itoa(port))
}

func clampReputation(v int) int {
	if v < MinReputation {
		return MinReputation
	}
	if v > MaxReputation {
		return MaxReputation
	}
	return v
}

// canTransition allows only pending -> authenticated|rejected.
func canTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	return to == StatusAuthenticated || to == StatusRejected
}
