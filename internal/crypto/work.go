package crypto

import "context"

// cancelCheckInterval bounds how many nonces are tried between context checks.
const cancelCheckInterval = 1 << 10

// MeetsDifficulty reports whether a hex digest starts with difficulty zero digits.
func MeetsDifficulty(hexHash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hexHash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}

// SolveWork increments the nonce from zero until hashAt(nonce) meets difficulty.
// It returns false when ctx is done before a solution is found.
func SolveWork(ctx context.Context, difficulty int, hashAt func(nonce uint64) string) (uint64, string, bool) {
	for nonce := uint64(0); nonce < ^uint64(0); nonce++ {
		if nonce%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return 0, "", false
			default:
			}
		}
		h := hashAt(nonce)
		if MeetsDifficulty(h, difficulty) {
			return nonce, h, true
		}
	}
	return 0, "", false
}
