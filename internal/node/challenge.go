package node

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgernode/internal/crypto"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultMaxChallenges bounds outstanding challenges; the oldest is
	// forgotten first.
	DefaultMaxChallenges = 10_000
	challengeNonceBytes  = 32
)

type AuthChallenge struct {
	ChallengeID string `json:"challenge_id"`
	Challenge   string `json:"challenge"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Respond answers a challenge with the responder's key.
func Respond(ch AuthChallenge, key string) string {
	return crypto.Sign([]byte(ch.Challenge), key)
}

// IssueChallenge creates a challenge and records it as outstanding until it
// is answered or expires.
func (r *Registry) IssueChallenge() AuthChallenge {
	now := r.now()
	ch := AuthChallenge{
		ChallengeID: uuid.NewString(),
		Challenge:   crypto.RandomHex(challengeNonceBytes),
		IssuedAt:    now.UnixMilli(),
		ExpiresAt:   now.Add(r.challengeTTL).UnixMilli(),
	}
	r.mu.Lock()
	r.issued.Add(ch.ChallengeID, ch)
	r.mu.Unlock()
	r.log.Debug("challenge issued")
	return ch
}

// VerifyResponse checks a response against a challenge this registry issued.
// Unknown, expired or already used challenges fail. The stored record is
// authoritative; caller-supplied fields other than the id are ignored. Every
// call consumes the challenge.
func (r *Registry) VerifyResponse(ch AuthChallenge, response, claimedKey string) bool {
	r.mu.Lock()
	issued, ok := r.issued.Peek(ch.ChallengeID)
	if ok {
		r.issued.Remove(ch.ChallengeID)
	}
	r.mu.Unlock()
	if !ok {
		r.log.Debug("unknown challenge", zap.String("challenge_id", ch.ChallengeID))
		return false
	}
	if r.now().UnixMilli() > issued.ExpiresAt {
		return false
	}
	return crypto.Verify([]byte(issued.Challenge), response, claimedKey)
}
