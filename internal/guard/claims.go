package guard

import (
	"context"
	"sync"

	"github.com/teeline/settlement/internal/domain"
)

// RoundClaims hands out exclusive in-flight claims on round keys so that a manual
// ingest or settle call never overlaps the scheduled pipeline on the same round.
type RoundClaims struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// NewRoundClaims creates an empty claim set.
func NewRoundClaims() *RoundClaims {
	return &RoundClaims{
		claimed: make(map[string]bool),
	}
}

// Acquire claims key. The caller must Release it when done.
func (rc *RoundClaims) Acquire(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.claimed[key] {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "round " + key + " is already being processed",
			Guard:   "round_claim",
		}
	}

	rc.claimed[key] = true
	return domain.GuardResult{Allowed: true}
}

// Release drops the claim on key.
func (rc *RoundClaims) Release(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.claimed, key)
}

// Held reports whether key is currently claimed.
func (rc *RoundClaims) Held(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.claimed[key]
}
