// Package state holds ClawNet's derived state (accounts, escrows, DID
// registry, resource index, reputation aggregates) and the deterministic
// reducers that are the sole way that state changes (spec.md §4.4).
package state

import (
	"sync"

	"github.com/clawnet/node/pkg/clawid"
)

// EscrowStatus is one of the five states in the escrow state machine
// (spec.md §4.5).
type EscrowStatus string

const (
	EscrowActive    EscrowStatus = "active"
	EscrowReleased  EscrowStatus = "released"
	EscrowRefunded  EscrowStatus = "refunded"
	EscrowExpired   EscrowStatus = "expired"
	EscrowDisputed  EscrowStatus = "disputed"
)

// Escrow mirrors spec.md §3.3's escrow record.
type Escrow struct {
	ID             string       `json:"id"`
	Depositor      string       `json:"depositor"`
	Beneficiary    string       `json:"beneficiary"`
	Arbiter        string       `json:"arbiter,omitempty"`
	Amount         uint64       `json:"amount"`
	Status         EscrowStatus `json:"status"`
	Rules          string       `json:"rules,omitempty"`
	ExpiresAt      int64        `json:"expiresAt,omitempty"`
	LastEventHash  string       `json:"lastEventHash"`
}

// DIDRecord mirrors spec.md §3.3's DID registry entry.
type DIDRecord struct {
	DID         string `json:"did"`
	DocHash     string `json:"docHash"`
	ActivePub   string `json:"activePub"`
	Revoked     bool   `json:"revoked"`
}

// Listing is a market listing resource (spec.md §3.7 supplement).
type Listing struct {
	ID          string `json:"id"`
	Seller      string `json:"seller"`
	ResourceRef string `json:"resourceRef"`
	Price       uint64 `json:"price"`
	Qty         uint64 `json:"qty"`
	Status      string `json:"status"` // open, filled, closed
}

// Order is a market order against a listing.
type Order struct {
	ID         string `json:"id"`
	ListingID  string `json:"listingId"`
	Buyer      string `json:"buyer"`
	Qty        uint64 `json:"qty"`
	TotalPrice uint64 `json:"totalPrice"`
	Status     string `json:"status"` // placed, completed, cancelled
}

// Bid is a market bid against a listing.
type Bid struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId"`
	Bidder    string `json:"bidder"`
	Amount    uint64 `json:"amount"`
	Status    string `json:"status"` // open, accepted, withdrawn
}

// Contract is a bilateral/multilateral agreement with a milestone lifecycle
// (spec.md §4.4's contract.* reducer family).
type Contract struct {
	ID         string            `json:"id"`
	Parties    []string          `json:"parties"`
	Terms      string            `json:"terms"`
	Milestones []ContractMilestone `json:"milestones"`
	Status     string            `json:"status"` // draft, signed, active, completed, disputed, terminated
}

// ContractMilestone tracks one deliverable within a Contract.
type ContractMilestone struct {
	ID     string `json:"id"`
	Status string `json:"status"` // pending, accepted, rejected
}

// State is the full derived state of a ClawNet node: everything reducers
// can mutate. It is rebuildable by replaying the event log from genesis or
// from a snapshot (spec.md §3.3, §3.5).
type State struct {
	mu sync.RWMutex

	Accounts    map[clawid.Address]uint64
	AddressByDID map[string]clawid.Address

	Escrows map[string]Escrow
	DIDs    map[string]DIDRecord

	Listings  map[string]Listing
	Orders    map[string]Order
	Bids      map[string]Bid
	Contracts map[string]Contract

	// ResourceIndex mirrors the event store's per-resource last-hash index
	// inside derived state, so observers (reputation, market views) can
	// walk resource history without reaching into the store.
	ResourceIndex map[string]string

	// Reputation maps DID -> dimension -> fixed-point score in [0, 1000].
	Reputation map[string]map[string]int64

	// Stakes maps a wallet.stake event's own hash to the amount it locked,
	// the lookup spec.md §4.6's sybilPolicy=stake StakeProof resolves
	// its stakeEvent reference against.
	Stakes map[string]uint64
}

// TreasuryAddress is the fixed module account fees and mint/burn events
// settle against.
const TreasuryAddress clawid.Address = "claw1treasurymoduleaccount00000000000000"

// New returns an empty derived state with the treasury account seeded at
// zero balance.
func New() *State {
	s := &State{
		Accounts:      make(map[clawid.Address]uint64),
		AddressByDID:  make(map[string]clawid.Address),
		Escrows:       make(map[string]Escrow),
		DIDs:          make(map[string]DIDRecord),
		Listings:      make(map[string]Listing),
		Orders:        make(map[string]Order),
		Bids:          make(map[string]Bid),
		Contracts:     make(map[string]Contract),
		ResourceIndex: make(map[string]string),
		Reputation:    make(map[string]map[string]int64),
		Stakes:        make(map[string]uint64),
	}
	s.Accounts[TreasuryAddress] = 0
	return s
}

// Balance returns the current balance for addr (zero if unknown).
func (s *State) Balance(addr clawid.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Accounts[addr]
}

// Clone performs a deep-enough copy of the state for snapshotting: every
// map is duplicated so a concurrent reducer apply cannot mutate the
// snapshot's view mid-serialization.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := New()
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.AddressByDID {
		out.AddressByDID[k] = v
	}
	for k, v := range s.Escrows {
		out.Escrows[k] = v
	}
	for k, v := range s.DIDs {
		out.DIDs[k] = v
	}
	for k, v := range s.Listings {
		out.Listings[k] = v
	}
	for k, v := range s.Orders {
		out.Orders[k] = v
	}
	for k, v := range s.Bids {
		out.Bids[k] = v
	}
	for k, v := range s.Contracts {
		out.Contracts[k] = v
	}
	for k, v := range s.ResourceIndex {
		out.ResourceIndex[k] = v
	}
	for k, dims := range s.Reputation {
		cp := make(map[string]int64, len(dims))
		for d, v := range dims {
			cp[d] = v
		}
		out.Reputation[k] = cp
	}
	for k, v := range s.Stakes {
		out.Stakes[k] = v
	}
	return out
}

// withLock runs fn while holding the write lock; reducers use this so each
// Apply call is one atomic critical section (spec.md §5 single-writer
// discipline — the section is always short and never does network/disk I/O).
func (s *State) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
