package state

import (
	"encoding/json"
	"testing"

	"github.com/clawnet/node/internal/codec"
)

func envWithPayload(t *testing.T, eventType, issuer string, payload interface{}) *codec.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &codec.Envelope{
		V:       1,
		Type:    eventType,
		Issuer:  issuer,
		Payload: raw,
		Hash:    "testhash-" + eventType,
	}
}

func TestWalletTransferMovesBalanceAndFee(t *testing.T) {
	s := New()
	s.Accounts["claw1alice"] = 1000

	env := envWithPayload(t, "wallet.transfer", "did:claw:alice", transferPayload{
		From: "claw1alice", To: "claw1bob", Amount: 600, Fee: 10,
	})
	if err := Apply(s, env); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := s.Balance("claw1alice"); got != 390 {
		t.Fatalf("alice balance = %d, want 390", got)
	}
	if got := s.Balance("claw1bob"); got != 600 {
		t.Fatalf("bob balance = %d, want 600", got)
	}
	if got := s.Balance(TreasuryAddress); got != 10 {
		t.Fatalf("treasury balance = %d, want 10", got)
	}
}

func TestWalletTransferInsufficientBalance(t *testing.T) {
	s := New()
	s.Accounts["claw1alice"] = 5

	env := envWithPayload(t, "wallet.transfer", "did:claw:alice", transferPayload{
		From: "claw1alice", To: "claw1bob", Amount: 600, Fee: 10,
	})
	err := Apply(s, env)
	if err != ErrInsufficientBalance {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := s.Balance("claw1alice"); got != 5 {
		t.Fatalf("balance mutated on failed transfer: %d", got)
	}
}

func TestWalletMintBurnRoundTrip(t *testing.T) {
	s := New()
	if err := Apply(s, envWithPayload(t, "wallet.mint", "did:claw:treasury", mintPayload{To: "claw1alice", Amount: 100})); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := s.Balance("claw1alice"); got != 100 {
		t.Fatalf("balance after mint = %d, want 100", got)
	}
	if err := Apply(s, envWithPayload(t, "wallet.burn", "did:claw:alice", burnPayload{From: "claw1alice", Amount: 40})); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if got := s.Balance("claw1alice"); got != 60 {
		t.Fatalf("balance after burn = %d, want 60", got)
	}
}

func TestWalletStakeLocksBalanceUnderEventHash(t *testing.T) {
	s := New()
	s.Accounts["claw1alice"] = 500

	env := envWithPayload(t, "wallet.stake", "did:claw:alice", stakePayload{Staker: "claw1alice", Amount: 300})
	if err := Apply(s, env); err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	if got := s.Balance("claw1alice"); got != 200 {
		t.Fatalf("alice balance = %d, want 200", got)
	}
	if got := s.Stakes[env.Hash]; got != 300 {
		t.Fatalf("stake amount for %s = %d, want 300", env.Hash, got)
	}
}

func TestWalletStakeInsufficientBalance(t *testing.T) {
	s := New()
	s.Accounts["claw1alice"] = 10

	env := envWithPayload(t, "wallet.stake", "did:claw:alice", stakePayload{Staker: "claw1alice", Amount: 300})
	if err := Apply(s, env); err != ErrInsufficientBalance {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	s := New()
	env := envWithPayload(t, "wallet.doesnotexist", "did:claw:alice", struct{}{})
	if err := Apply(s, env); err == nil {
		t.Fatal("expected ErrUnknownEventType, got nil")
	}
}
