package state

import "testing"

func TestReputationRecordAccumulatesPerDimension(t *testing.T) {
	s := New()
	if err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{
		Subject: "did:claw:bob", Dimension: "delivery", Ref: "evt-1", Delta: 20,
	})); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:carol", reputationRecordPayload{
		Subject: "did:claw:bob", Dimension: "delivery", Ref: "evt-2", Delta: 30,
	})); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got := s.ReputationScore("did:claw:bob", "delivery"); got != 50 {
		t.Fatalf("delivery score = %d, want 50", got)
	}

	if err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{
		Subject: "did:claw:bob", Dimension: "communication", Ref: "evt-3", Delta: 10,
	})); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got := s.ReputationScore("did:claw:bob", "communication"); got != 10 {
		t.Fatalf("communication score = %d, want 10", got)
	}
	if got := s.ReputationScore("did:claw:bob", "delivery"); got != 50 {
		t.Fatalf("delivery score changed by an unrelated dimension: %d, want 50", got)
	}
	if got := s.ReputationTotal("did:claw:bob"); got != 60 {
		t.Fatalf("total = %d, want 60", got)
	}
}

func TestReputationRecordClampsToBounds(t *testing.T) {
	s := New()
	if err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{
		Subject: "did:claw:bob", Dimension: "delivery", Ref: "evt-1", Delta: 5000,
	})); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got := s.ReputationScore("did:claw:bob", "delivery"); got != ReputationMax {
		t.Fatalf("score = %d, want %d", got, ReputationMax)
	}

	if err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{
		Subject: "did:claw:bob", Dimension: "delivery", Ref: "evt-2", Delta: -9999,
	})); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got := s.ReputationScore("did:claw:bob", "delivery"); got != ReputationMin {
		t.Fatalf("score = %d, want %d", got, ReputationMin)
	}
}

func TestReputationRecordRequiresSubjectDimensionAndRef(t *testing.T) {
	s := New()
	err := Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{Delta: 1}))
	if err == nil {
		t.Fatal("expected error for missing subject/dimension/ref")
	}

	err = Apply(s, envWithPayload(t, "reputation.record", "did:claw:alice", reputationRecordPayload{
		Subject: "did:claw:bob", Ref: "evt-1", Delta: 1,
	}))
	if err == nil {
		t.Fatal("expected error for missing dimension")
	}
}
