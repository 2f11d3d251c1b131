package snapshot

import (
	"time"

	"github.com/clawnet/node/internal/state"
	"github.com/clawnet/node/internal/store"
	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// Policy controls when the manager triggers a new snapshot build:
// whichever of minEvents or minInterval elapses first (spec.md §4.7
// defaults: every 10,000 events or 1 hour).
type Policy struct {
	MinEvents    int
	MinInterval  time.Duration
}

// DefaultPolicy mirrors the spec's stated defaults.
var DefaultPolicy = Policy{MinEvents: 10_000, MinInterval: time.Hour}

// Manager owns the locally signed snapshot history and decides when to
// trigger a new build, mirroring the teacher's interval/count-gated
// background-task pattern (core/replication.go's periodic sync loop).
type Manager struct {
	policy    Policy
	peerID    string
	signKey   *bls.SecretKey
	clock     func() time.Time
	eventsAtLast int
	lastBuiltAt  time.Time
	latest       *Snapshot
}

// NewManager builds a Manager that signs its own snapshots as peerID
// using signKey.
func NewManager(policy Policy, peerID string, signKey *bls.SecretKey, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{policy: policy, peerID: peerID, signKey: signKey, clock: clock}
}

// ShouldTrigger reports whether a new snapshot build is due given the
// store's current event count.
func (m *Manager) ShouldTrigger(eventCount int) bool {
	if m.latest == nil {
		return eventCount > 0
	}
	if eventCount-m.eventsAtLast >= m.policy.MinEvents {
		return true
	}
	return m.clock().Sub(m.lastBuiltAt) >= m.policy.MinInterval
}

// BuildAndSign produces a new snapshot from st anchored at the store's
// latest hash, signs it locally, and records it as the manager's latest.
func (m *Manager) BuildAndSign(st *state.State, log *store.Store) (*Snapshot, error) {
	prevHash := ""
	if m.latest != nil {
		prevHash = m.latest.Hash
	}
	snap, err := Build(st, log.LatestHash(), prevHash)
	if err != nil {
		return nil, err
	}
	if err := Sign(snap, m.peerID, m.signKey); err != nil {
		return nil, err
	}
	m.latest = snap
	m.eventsAtLast = log.Len()
	m.lastBuiltAt = m.clock()
	return snap, nil
}

// Latest returns the most recently built snapshot, or nil if none has
// been built yet.
func (m *Manager) Latest() *Snapshot {
	return m.latest
}

// ColdStart returns the state to resume from: the latest persisted
// snapshot's state if one exists, or a fresh genesis state otherwise.
// Either way, the caller must still request a range after the returned
// anchor hash to catch up (spec.md §4.7).
func ColdStart(persisted *Snapshot) (st *state.State, anchorHash string, err error) {
	if persisted == nil {
		return state.New(), "", nil
	}
	st, err = LoadState(persisted)
	if err != nil {
		return nil, "", err
	}
	return st, persisted.At, nil
}
