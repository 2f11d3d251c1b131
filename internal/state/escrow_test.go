package state

import "testing"

func TestEscrowCreateReleaseRoundTrip(t *testing.T) {
	s := New()
	s.Accounts["claw1depositor"] = 500

	create := envWithPayload(t, "wallet.escrow.create", "did:claw:depositor", escrowCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "esc-1"},
		Depositor:   "claw1depositor",
		Beneficiary: "claw1beneficiary",
		Amount:      200,
	})
	if err := Apply(s, create); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if got := s.Balance("claw1depositor"); got != 300 {
		t.Fatalf("depositor balance = %d, want 300", got)
	}
	if got := s.Escrows["esc-1"].Status; got != EscrowActive {
		t.Fatalf("escrow status = %s, want active", got)
	}

	release := envWithPayload(t, "wallet.escrow.release", "did:claw:depositor", escrowTransitionPayload{
		ResourceRef: ResourceRef{ResourceID: "esc-1"},
	})
	if err := Apply(s, release); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got := s.Balance("claw1beneficiary"); got != 200 {
		t.Fatalf("beneficiary balance = %d, want 200", got)
	}
	if got := s.Escrows["esc-1"].Status; got != EscrowReleased {
		t.Fatalf("escrow status = %s, want released", got)
	}
}

func TestEscrowDisputeThenRefund(t *testing.T) {
	s := New()
	s.Accounts["claw1depositor"] = 100

	if err := Apply(s, envWithPayload(t, "wallet.escrow.create", "did:claw:depositor", escrowCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "esc-2"},
		Depositor:   "claw1depositor",
		Beneficiary: "claw1beneficiary",
		Amount:      100,
	})); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := Apply(s, envWithPayload(t, "wallet.escrow.dispute", "did:claw:beneficiary", escrowTransitionPayload{
		ResourceRef: ResourceRef{ResourceID: "esc-2"},
	})); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if got := s.Escrows["esc-2"].Status; got != EscrowDisputed {
		t.Fatalf("escrow status = %s, want disputed", got)
	}

	if err := Apply(s, envWithPayload(t, "wallet.escrow.refund", "did:claw:arbiter", escrowTransitionPayload{
		ResourceRef: ResourceRef{ResourceID: "esc-2"},
	})); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if got := s.Balance("claw1depositor"); got != 100 {
		t.Fatalf("depositor balance after refund = %d, want 100", got)
	}
	if got := s.Escrows["esc-2"].Status; got != EscrowRefunded {
		t.Fatalf("escrow status = %s, want refunded", got)
	}
}

func TestEscrowReleaseFromWrongStateFails(t *testing.T) {
	s := New()
	s.Accounts["claw1depositor"] = 100
	if err := Apply(s, envWithPayload(t, "wallet.escrow.create", "did:claw:depositor", escrowCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "esc-3"},
		Depositor:   "claw1depositor",
		Beneficiary: "claw1beneficiary",
		Amount:      100,
	})); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	release := envWithPayload(t, "wallet.escrow.release", "did:claw:depositor", escrowTransitionPayload{
		ResourceRef: ResourceRef{ResourceID: "esc-3"},
	})
	if err := Apply(s, release); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := Apply(s, release); err != ErrEscrowBadTransition {
		t.Fatalf("second release: got %v, want ErrEscrowBadTransition", err)
	}
}
