package consensus

import (
	"fmt"
	"strings"
	"time"
)

type Algorithm string

const (
	ProofOfWork      Algorithm = "pow"
	ProofOfStake     Algorithm = "pos"
	ProofOfAuthority Algorithm = "poa"
	DelegatedStake   Algorithm = "dpos"
)

const (
	DefaultBlockInterval = 10 * time.Second
	DefaultDifficulty    = 4
	// MaxDifficulty is the hex length of a SHA-256 digest.
	MaxDifficulty = 64
)

type Config struct {
	Algorithm     Algorithm
	BlockInterval time.Duration
	// Difficulty is the number of leading zero hex digits a block hash needs.
	Difficulty int
	// MinStake is carried for stake-based configs; no balances are modeled.
	MinStake    uint64
	Authorities []string
}

func DefaultConfig() Config {
	return Config{
		Algorithm:     ProofOfWork,
		BlockInterval: DefaultBlockInterval,
		Difficulty:    DefaultDifficulty,
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case ProofOfWork, ProofOfStake, ProofOfAuthority, DelegatedStake:
		return a, nil
	case "work":
		return ProofOfWork, nil
	case "stake":
		return ProofOfStake, nil
	case "authority":
		return ProofOfAuthority, nil
	case "delegated":
		return DelegatedStake, nil
	}
	return "", fmt.Errorf("unknown consensus algorithm %q", s)
}
