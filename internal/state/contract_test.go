package state

import "testing"

func TestContractLifecycleToCompletion(t *testing.T) {
	s := New()

	if err := Apply(s, envWithPayload(t, "contract.create", "did:claw:alice", contractCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
		Parties:     []string{"did:claw:alice", "did:claw:bob"},
		Terms:       "build a bridge",
	})); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := Apply(s, envWithPayload(t, "contract.sign", "did:claw:bob", contractRefPayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
	})); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if got := s.Contracts["contract-1"].Status; got != ContractSigned {
		t.Fatalf("status = %s, want signed", got)
	}

	if err := Apply(s, envWithPayload(t, "contract.activate", "did:claw:alice", contractRefPayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
	})); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if err := Apply(s, envWithPayload(t, "contract.milestone.submit", "did:claw:alice", milestoneSubmitPayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
		ContractID:  "contract-1",
		MilestoneID: "m1",
	})); err != nil {
		t.Fatalf("milestone submit failed: %v", err)
	}
	if got := len(s.Contracts["contract-1"].Milestones); got != 1 {
		t.Fatalf("milestones = %d, want 1", got)
	}

	if err := Apply(s, envWithPayload(t, "contract.milestone.accept", "did:claw:bob", milestoneAcceptPayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
		ContractID:  "contract-1",
		MilestoneID: "m1",
	})); err != nil {
		t.Fatalf("milestone accept failed: %v", err)
	}
	if got := s.Contracts["contract-1"].Milestones[0].Status; got != MilestoneAccepted {
		t.Fatalf("milestone status = %s, want accepted", got)
	}

	if err := Apply(s, envWithPayload(t, "contract.complete", "did:claw:alice", contractRefPayload{
		ResourceRef: ResourceRef{ResourceID: "contract-1"},
	})); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if got := s.Contracts["contract-1"].Status; got != ContractCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestContractCreateRequiresTwoParties(t *testing.T) {
	s := New()
	err := Apply(s, envWithPayload(t, "contract.create", "did:claw:alice", contractCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "contract-2"},
		Parties:     []string{"did:claw:alice"},
		Terms:       "solo",
	}))
	if err == nil {
		t.Fatal("expected error for single-party contract")
	}
}

func TestContractDisputeThenTerminate(t *testing.T) {
	s := New()
	if err := Apply(s, envWithPayload(t, "contract.create", "did:claw:alice", contractCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "contract-3"},
		Parties:     []string{"did:claw:alice", "did:claw:bob"},
		Terms:       "terms",
	})); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "contract.sign", "did:claw:bob", contractRefPayload{ResourceRef: ResourceRef{ResourceID: "contract-3"}})); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "contract.activate", "did:claw:alice", contractRefPayload{ResourceRef: ResourceRef{ResourceID: "contract-3"}})); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "contract.dispute", "did:claw:bob", contractRefPayload{ResourceRef: ResourceRef{ResourceID: "contract-3"}})); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "contract.terminate", "did:claw:resolver", contractTerminatePayload{ResourceRef: ResourceRef{ResourceID: "contract-3"}})); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if got := s.Contracts["contract-3"].Status; got != ContractTerminated {
		t.Fatalf("status = %s, want terminated", got)
	}
}
