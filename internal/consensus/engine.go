// Package consensus holds the validator set and the block acceptance rules
// for the configured algorithm.
package consensus

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledgernode/internal/block"
	"ledgernode/internal/crypto"
	"ledgernode/internal/node"
)

type Engine struct {
	mu          sync.RWMutex
	cfg         Config
	validators  map[string]node.NetworkNode
	authorities map[string]struct{}
	log         *zap.Logger
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if cfg.Algorithm == "" {
		cfg.Algorithm = ProofOfWork
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}
	if cfg.Difficulty < 0 {
		cfg.Difficulty = 0
	}
	if cfg.Difficulty > MaxDifficulty {
		cfg.Difficulty = MaxDifficulty
	}
	if log == nil {
		log = zap.NewNop()
	}
	auth := make(map[string]struct{}, len(cfg.Authorities))
	for _, k := range cfg.Authorities {
		auth[k] = struct{}{}
	}
	cfg.Authorities = append([]string(nil), cfg.Authorities...)
	return &Engine{
		cfg:         cfg,
		validators:  make(map[string]node.NetworkNode),
		authorities: auth,
		log:         log.Named("consensus"),
	}
}

func (e *Engine) Algorithm() Algorithm {
	return e.cfg.Algorithm
}

func (e *Engine) Difficulty() int {
	return e.cfg.Difficulty
}

func (e *Engine) BlockInterval() time.Duration {
	return e.cfg.BlockInterval
}

// Config returns a copy of the configuration with the current authority list.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.cfg
	cfg.Authorities = e.authorityListLocked()
	return cfg
}

// AddValidator admits n to the validator set. Under proof-of-authority only
// authorized public keys are accepted.
func (e *Engine) AddValidator(n node.NetworkNode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.Algorithm == ProofOfAuthority {
		if _, ok := e.authorities[n.PublicKey]; !ok {
			e.log.Debug("validator not authorized", zap.String("node_id", n.ID))
			return false
		}
	}
	e.validators[n.ID] = n
	return true
}

func (e *Engine) RemoveValidator(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.validators[id]; !ok {
		return false
	}
	delete(e.validators, id)
	return true
}

func (e *Engine) GetValidators() []node.NetworkNode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]node.NetworkNode, 0, len(e.validators))
	for _, v := range e.validators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) Authorize(publicKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authorities[publicKey] = struct{}{}
}

func (e *Engine) Deauthorize(publicKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.authorities, publicKey)
}

// VerifyBlock checks, in order: hash integrity, parent linkage, timestamp
// ordering, then the algorithm rule. It stops at the first failure.
func (e *Engine) VerifyBlock(candidate, parent block.Block) bool {
	if candidate.ComputeHash() != candidate.Hash {
		e.reject(candidate, "hash")
		return false
	}
	if candidate.PreviousHash != parent.Hash {
		e.reject(candidate, "linkage")
		return false
	}
	if candidate.Timestamp <= parent.Timestamp {
		e.reject(candidate, "timestamp")
		return false
	}
	if !e.algorithmRule(candidate) {
		e.reject(candidate, string(e.cfg.Algorithm))
		return false
	}
	return true
}

func (e *Engine) algorithmRule(b block.Block) bool {
	switch e.cfg.Algorithm {
	case ProofOfWork:
		return crypto.MeetsDifficulty(b.Hash, e.cfg.Difficulty)
	case ProofOfStake:
		e.mu.RLock()
		defer e.mu.RUnlock()
		for _, v := range e.validators {
			if v.PublicKey == b.Validator {
				return true
			}
		}
		return false
	case ProofOfAuthority:
		e.mu.RLock()
		defer e.mu.RUnlock()
		_, ok := e.authorities[b.Validator]
		return ok
	case DelegatedStake:
		// Delegation is not modeled; every block fails.
		return false
	}
	return false
}

func (e *Engine) reject(b block.Block, rule string) {
	e.log.Debug("block rejected", zap.Int64("index", b.Index), zap.String("rule", rule))
}

func (e *Engine) authorityListLocked() []string {
	out := make([]string, 0, len(e.authorities))
	for k := range e.authorities {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
