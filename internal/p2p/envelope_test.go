package p2p

import (
	"crypto/ed25519"
	"testing"
)

func TestSealVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env, err := Seal(TopicEvents, priv, 1000, []byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := Verify(env, pub); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	env, err := Seal(TopicEvents, priv, 1000, []byte(`{}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := Verify(env, otherPub); err == nil {
		t.Fatal("expected verification failure against unrelated key")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	env, err := Seal(TopicEvents, priv, 1000, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env.Payload = []byte(`{"a":2}`)
	if err := Verify(env, pub); err == nil {
		t.Fatal("expected verification failure after payload tamper")
	}
}

func TestFrameUnframeRoundTrip(t *testing.T) {
	data := []byte("some payload bytes")
	framed := Frame(data)
	got, err := Unframe(framed)
	if err != nil {
		t.Fatalf("unframe: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestUnframeRejectsLengthMismatch(t *testing.T) {
	framed := Frame([]byte("abc"))
	framed = framed[:len(framed)-1] // truncate
	if _, err := Unframe(framed); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestBodyValidateRequiresExactlyOneVariant(t *testing.T) {
	if err := (Body{}).Validate(); err == nil {
		t.Fatal("expected error for zero variants set")
	}
	b := Body{RangeRequest: &RangeRequest{From: "h", Limit: 10}, SnapshotRequest: &SnapshotRequest{FromHash: "h"}}
	if err := b.Validate(); err == nil {
		t.Fatal("expected error for two variants set")
	}
	ok := Body{RangeRequest: &RangeRequest{From: "h", Limit: 10}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected single-variant body to validate, got %v", err)
	}
}
