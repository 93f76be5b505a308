package agent

import (
	"sync"
	"time"
)

type claimEntry struct {
	owner   string
	expires time.Time
}

// ClaimRegistry gives every ArbitrageAgent instance in the process
// exclusive access to a market while it works an opportunity, per
// spec.md §4.7's CLAIM state ("on claim denied → IDLE"). It is the
// single-process analogue of budget.Manager's named-lock claim (a
// single conditional update instead of a distributed lock, since all
// agents in one swarm process share this registry directly), grounded
// on the same claim-then-verify shape as
// ledger.PostgresStore.Lock's "owner='' OR expired" condition.
type ClaimRegistry struct {
	mu     sync.Mutex
	claims map[string]claimEntry
}

// NewClaimRegistry returns an empty registry.
func NewClaimRegistry() *ClaimRegistry {
	return &ClaimRegistry{claims: make(map[string]claimEntry)}
}

// TryClaim claims marketID for owner until ttl elapses, returning false
// if another owner holds an unexpired claim.
func (r *ClaimRegistry) TryClaim(marketID, owner string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if e, ok := r.claims[marketID]; ok && e.owner != owner && e.expires.After(now) {
		return false
	}
	r.claims[marketID] = claimEntry{owner: owner, expires: now.Add(ttl)}
	return true
}

// Release drops owner's claim on marketID if it still holds it.
func (r *ClaimRegistry) Release(marketID, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.claims[marketID]; ok && e.owner == owner {
		delete(r.claims, marketID)
	}
}

// ClaimedBy reports the current claim holder of marketID, if any.
func (r *ClaimRegistry) ClaimedBy(marketID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.claims[marketID]
	if !ok || !e.expires.After(time.Now()) {
		return "", false
	}
	return e.owner, true
}
