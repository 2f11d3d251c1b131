package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/pkg/clawid"
)

// EscrowModuleAddress is the module account escrow funds are held in while
// active, mirroring the teacher's ModuleAddress("escrow") pattern
// (core/escrow.go).
const EscrowModuleAddress clawid.Address = "claw1escrowmoduleaccount000000000000000"

func init() {
	Register("wallet.escrow.create", reduceEscrowCreate)
	Register("wallet.escrow.fund", reduceEscrowFund)
	Register("wallet.escrow.release", reduceEscrowRelease)
	Register("wallet.escrow.refund", reduceEscrowRefund)
	Register("wallet.escrow.expire", reduceEscrowExpire)
	Register("wallet.escrow.dispute", reduceEscrowDispute)
}

type escrowCreatePayload struct {
	ResourceRef
	Depositor   clawid.Address `json:"depositor"`
	Beneficiary clawid.Address `json:"beneficiary"`
	Arbiter     string         `json:"arbiter,omitempty"`
	Amount      uint64         `json:"amount"`
	Rules       string         `json:"rules,omitempty"`
	ExpiresAt   int64          `json:"expiresAt,omitempty"`
}

// reduceEscrowCreate atomically debits the depositor and opens the escrow
// directly in the active state (create + fund combined, as in the
// teacher's Escrow_Create).
func reduceEscrowCreate(s *State, env *codec.Envelope) error {
	var p escrowCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		if s.Accounts[p.Depositor] < p.Amount {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.Depositor] -= p.Amount
		s.Accounts[EscrowModuleAddress] += p.Amount
		s.Escrows[p.ResourceID] = Escrow{
			ID:            p.ResourceID,
			Depositor:     string(p.Depositor),
			Beneficiary:   string(p.Beneficiary),
			Arbiter:       p.Arbiter,
			Amount:        p.Amount,
			Status:        EscrowActive,
			Rules:         p.Rules,
			ExpiresAt:     p.ExpiresAt,
			LastEventHash: env.Hash,
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type escrowFundPayload struct {
	ResourceRef
	Amount uint64 `json:"amount"`
}

func reduceEscrowFund(s *State, env *codec.Envelope) error {
	var p escrowFundPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		esc, ok := s.Escrows[p.ResourceID]
		if !ok {
			err = ErrEscrowNotFound
			return
		}
		if esc.Status != EscrowActive {
			err = ErrEscrowBadTransition
			return
		}
		depositor := clawid.Address(esc.Depositor)
		if s.Accounts[depositor] < p.Amount {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[depositor] -= p.Amount
		s.Accounts[EscrowModuleAddress] += p.Amount
		esc.Amount += p.Amount
		esc.LastEventHash = env.Hash
		s.Escrows[p.ResourceID] = esc
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type escrowTransitionPayload struct {
	ResourceRef
}

// applyEscrowTransition centralizes the from-set/to/payout logic for
// release, refund, and expire, which only differ in who gets paid and
// which prior states are legal (spec.md §4.5).
func applyEscrowTransition(s *State, env *codec.Envelope, allowedFrom []EscrowStatus, to EscrowStatus, payTo func(e Escrow) clawid.Address) error {
	var p escrowTransitionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		esc, ok := s.Escrows[p.ResourceID]
		if !ok {
			err = ErrEscrowNotFound
			return
		}
		allowed := false
		for _, st := range allowedFrom {
			if esc.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			err = ErrEscrowBadTransition
			return
		}
		if to == EscrowReleased || to == EscrowRefunded {
			recipient := payTo(esc)
			s.Accounts[EscrowModuleAddress] -= esc.Amount
			s.Accounts[recipient] += esc.Amount
		}
		esc.Status = to
		esc.LastEventHash = env.Hash
		s.Escrows[p.ResourceID] = esc
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

func reduceEscrowRelease(s *State, env *codec.Envelope) error {
	return applyEscrowTransition(s, env, []EscrowStatus{EscrowActive, EscrowDisputed}, EscrowReleased,
		func(e Escrow) clawid.Address { return clawid.Address(e.Beneficiary) })
}

func reduceEscrowRefund(s *State, env *codec.Envelope) error {
	return applyEscrowTransition(s, env, []EscrowStatus{EscrowActive, EscrowDisputed}, EscrowRefunded,
		func(e Escrow) clawid.Address { return clawid.Address(e.Depositor) })
}

// reduceEscrowExpire refunds the payer once the deadline has passed. The
// deadline check itself is a precondition (spec.md §4.3 step 8), evaluated
// by the validation pipeline with its own clock before Apply is ever
// called, so the reducer remains clock-free and deterministic.
func reduceEscrowExpire(s *State, env *codec.Envelope) error {
	return applyEscrowTransition(s, env, []EscrowStatus{EscrowActive}, EscrowRefunded,
		func(e Escrow) clawid.Address { return clawid.Address(e.Depositor) })
}

func reduceEscrowDispute(s *State, env *codec.Envelope) error {
	var p escrowTransitionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		esc, ok := s.Escrows[p.ResourceID]
		if !ok {
			err = ErrEscrowNotFound
			return
		}
		if esc.Status != EscrowActive {
			err = ErrEscrowBadTransition
			return
		}
		esc.Status = EscrowDisputed
		esc.LastEventHash = env.Hash
		s.Escrows[p.ResourceID] = esc
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

// EscrowExpiryDue reports whether now has passed an active escrow's
// deadline, used by the validation pipeline's precondition check for
// wallet.escrow.expire events.
func EscrowExpiryDue(e Escrow, now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixMilli() >= e.ExpiresAt
}
