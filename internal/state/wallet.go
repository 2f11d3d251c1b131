package state

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/pkg/clawid"
)

func init() {
	Register("wallet.transfer", reduceWalletTransfer)
	Register("wallet.mint", reduceWalletMint)
	Register("wallet.burn", reduceWalletBurn)
	Register("wallet.reward", reduceWalletReward)
	Register("wallet.fee", reduceWalletFee)
	Register("wallet.stake", reduceWalletStake)
}

type transferPayload struct {
	From   clawid.Address `json:"from"`
	To     clawid.Address `json:"to"`
	Amount uint64         `json:"amount"`
	Fee    uint64         `json:"fee"`
}

// reduceWalletTransfer debits from, credits to, and routes fee to the
// treasury account in one atomic step (spec.md §4.4, S1 in §8).
func reduceWalletTransfer(s *State, env *codec.Envelope) error {
	var p transferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	total := p.Amount + p.Fee
	var err error
	s.withLock(func() {
		if s.Accounts[p.From] < total {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.From] -= total
		s.Accounts[p.To] += p.Amount
		s.Accounts[TreasuryAddress] += p.Fee
	})
	return err
}

type mintPayload struct {
	To     clawid.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

func reduceWalletMint(s *State, env *codec.Envelope) error {
	var p mintPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	s.withLock(func() {
		s.Accounts[p.To] += p.Amount
	})
	return nil
}

type burnPayload struct {
	From   clawid.Address `json:"from"`
	Amount uint64         `json:"amount"`
}

func reduceWalletBurn(s *State, env *codec.Envelope) error {
	var p burnPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		if s.Accounts[p.From] < p.Amount {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.From] -= p.Amount
	})
	return err
}

type rewardPayload struct {
	To     clawid.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

func reduceWalletReward(s *State, env *codec.Envelope) error {
	var p rewardPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	s.withLock(func() {
		s.Accounts[p.To] += p.Amount
	})
	return nil
}

type stakePayload struct {
	Staker clawid.Address `json:"staker"`
	Amount uint64         `json:"amount"`
}

// reduceWalletStake locks amount out of staker's spendable balance and
// records it under the event's own hash, the reference spec.md §4.6's
// sybilPolicy=stake StakeProof resolves via p2p.StakeLookup.
func reduceWalletStake(s *State, env *codec.Envelope) error {
	var p stakePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		if s.Accounts[p.Staker] < p.Amount {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.Staker] -= p.Amount
		s.Stakes[env.Hash] = p.Amount
	})
	return err
}

type feePayload struct {
	From   clawid.Address `json:"from"`
	Amount uint64         `json:"amount"`
}

func reduceWalletFee(s *State, env *codec.Envelope) error {
	var p feePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		if s.Accounts[p.From] < p.Amount {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.From] -= p.Amount
		s.Accounts[TreasuryAddress] += p.Amount
	})
	return err
}
