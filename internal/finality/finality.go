// Package finality implements the tiered, probabilistic finality query
// described in spec.md §3.4 and §4.8: a read-only view over per-event
// peer-sighting counters, never a state mutation.
package finality

import (
	"sync"
	"time"
)

// SybilPolicy selects how peer eligibility is evaluated for finality
// counting (spec.md §4.6). Policy "none" disables peer-count finality
// entirely; only elapsed-time finality applies.
type SybilPolicy string

const (
	PolicyNone      SybilPolicy = "none"
	PolicyAllowlist SybilPolicy = "allowlist"
	PolicyPow       SybilPolicy = "pow"
	PolicyStake     SybilPolicy = "stake"
)

// Tiers maps an amount threshold to the number of distinct eligible
// peers required for peer-count finality (spec.md §4.8 defaults, in
// microtoken units).
type Tiers struct {
	Tier1Max uint64 // amount <= Tier1Max -> N = 3
	Tier2Max uint64 // amount <= Tier2Max -> N = 5 (else N = 7)
}

// DefaultTiers mirrors the spec's stated defaults: <=1e8 -> 3, <=1e9 -> 5,
// above that -> 7; events with no amount also use N=3.
var DefaultTiers = Tiers{Tier1Max: 100_000_000, Tier2Max: 1_000_000_000}

// Threshold returns the required distinct-peer count for an event
// carrying the given amount. hasAmount distinguishes "no amount field"
// (default tier) from an explicit zero amount, which is tier 1 too.
func (t Tiers) Threshold(amount uint64, hasAmount bool) int {
	if !hasAmount || amount <= t.Tier1Max {
		return 3
	}
	if amount <= t.Tier2Max {
		return 5
	}
	return 7
}

// counter tracks one event's finality-relevant sightings.
type counter struct {
	firstSeenAt time.Time
	eligible    map[string]struct{}
	conflict    bool
}

// Tracker accumulates per-event peer sightings and answers finality
// queries. It is safe for concurrent use: the gossip receiver records
// sightings from many goroutines while HTTP/API readers query finality.
type Tracker struct {
	mu       sync.Mutex
	tiers    Tiers
	policy   SybilPolicy
	timeMs   time.Duration
	clock    func() time.Time
	counters map[string]*counter
}

// New builds a Tracker. clock defaults to time.Now.
func New(policy SybilPolicy, tiers Tiers, finalityTime time.Duration, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		tiers:    tiers,
		policy:   policy,
		timeMs:   finalityTime,
		clock:    clock,
		counters: make(map[string]*counter),
	}
}

func (tr *Tracker) entry(hash string) *counter {
	c, ok := tr.counters[hash]
	if !ok {
		c = &counter{firstSeenAt: tr.clock(), eligible: make(map[string]struct{})}
		tr.counters[hash] = c
	}
	return c
}

// RecordSighting registers that peerID (already filtered for sybil
// eligibility by the caller) has re-broadcast or otherwise attested to
// hash.
func (tr *Tracker) RecordSighting(hash, peerID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c := tr.entry(hash)
	c.eligible[peerID] = struct{}{}
}

// RecordConflict flags hash as having a known conflicting event, which
// blocks elapsed-time finality (spec.md §4.8's hasConflict).
func (tr *Tracker) RecordConflict(hash string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entry(hash).conflict = true
}

// DistinctEligiblePeersSeen returns the count of distinct eligible peers
// that have attested to hash.
func (tr *Tracker) DistinctEligiblePeersSeen(hash string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c, ok := tr.counters[hash]
	if !ok {
		return 0
	}
	return len(c.eligible)
}

// ElapsedSinceFirstSeen returns how long ago hash was first observed, or
// zero if never observed.
func (tr *Tracker) ElapsedSinceFirstSeen(hash string) time.Duration {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c, ok := tr.counters[hash]
	if !ok {
		return 0
	}
	return tr.clock().Sub(c.firstSeenAt)
}

// HasConflict reports whether hash has a recorded conflicting event.
func (tr *Tracker) HasConflict(hash string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c, ok := tr.counters[hash]
	return ok && c.conflict
}

// IsFinalized answers the finality query for hash given its amount (if
// any): peer-count finality when the sybil policy allows it and the tier
// threshold is met, OR elapsed-time finality once finalityTimeMs has
// passed with no recorded conflict (spec.md §3.4, §4.8). Finality is a
// query, never a mutation.
func (tr *Tracker) IsFinalized(hash string, amount uint64, hasAmount bool) bool {
	tr.mu.Lock()
	c, ok := tr.counters[hash]
	if !ok {
		tr.mu.Unlock()
		return false
	}
	n := len(c.eligible)
	conflict := c.conflict
	elapsed := tr.clock().Sub(c.firstSeenAt)
	policy := tr.policy
	tr.mu.Unlock()

	if policy != PolicyNone {
		threshold := tr.tiers.Threshold(amount, hasAmount)
		if n >= threshold {
			return true
		}
	}
	return elapsed >= tr.timeMs && !conflict
}
