package state

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
)

// ReputationMin and ReputationMax bound every rolling score to a fixed
// integer range, resolving the Open Question of how reputation.record
// scores combine: scores are clamped rather than left to drift, keeping
// state bit-identical across implementations regardless of input order
// beyond the bound (spec.md §9).
const (
	ReputationMin = 0
	ReputationMax = 1000
)

func init() {
	Register("reputation.record", reduceReputationRecord)
}

// reputationRecordPayload is spec.md §3.3/§4.4's reputation.record event:
// a dimensioned score keyed by (target, dimension), verified by a ref
// that must point to an already-accepted event — the thing the rating is
// attesting to.
type reputationRecordPayload struct {
	Subject   string `json:"subject"`
	Dimension string `json:"dimension"`
	Ref       string `json:"ref"`
	Delta     int64  `json:"delta"`
}

// reduceReputationRecord folds a bounded rating delta into
// State.Reputation[Subject][Dimension], the DID -> dimension -> rolling
// score structure spec.md §3.3 requires. Ref's existence is checked
// before this reducer ever runs, by the validation pipeline's
// precondition step (spec.md §4.3 step 8) — see Pipeline.checkPrecondition.
func reduceReputationRecord(s *State, env *codec.Envelope) error {
	var p reputationRecordPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Subject == "" || p.Dimension == "" || p.Ref == "" {
		return fmt.Errorf("%w: subject, dimension, and ref are required", ErrInvalidPayload)
	}
	s.withLock(func() {
		byDimension, ok := s.Reputation[p.Subject]
		if !ok {
			byDimension = make(map[string]int64)
			s.Reputation[p.Subject] = byDimension
		}
		score := byDimension[p.Dimension] + p.Delta
		if score < ReputationMin {
			score = ReputationMin
		}
		if score > ReputationMax {
			score = ReputationMax
		}
		byDimension[p.Dimension] = score
	})
	return nil
}

// ReputationScore returns subject's rolling score along dimension, 0 if
// no reputation.record has ever named that (subject, dimension) pair.
func (s *State) ReputationScore(subject, dimension string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Reputation[subject][dimension]
}

// ReputationTotal sums subject's rolling score across every dimension it
// has been rated on, clamped to the same [ReputationMin, ReputationMax]
// bound so a multi-dimension subject's total reads consistently.
func (s *State) ReputationTotal(subject string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, score := range s.Reputation[subject] {
		total += score
	}
	if total < ReputationMin {
		return ReputationMin
	}
	if total > ReputationMax {
		return ReputationMax
	}
	return total
}
