package codec

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/clawnet/node/pkg/clawid"
)

func newTestEnvelope(t *testing.T) (*Envelope, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	did, err := clawid.DIDFromPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	e := &Envelope{
		V:       1,
		Type:    "wallet.transfer",
		Issuer:  did,
		Ts:      1700000000000,
		Nonce:   1,
		Payload: json.RawMessage(`{"from":"addr1","to":"addr2","amount":10,"fee":1}`),
	}
	if err := Sign(e, priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e, priv
}

func TestSignThenVerifySucceeds(t *testing.T) {
	e, _ := newTestEnvelope(t)
	if err := Verify(e); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestEventHashRoundTripsThroughCanonicalize(t *testing.T) {
	// Invariant 1: eventHash(E) = eventHash(decode(canonicalize(E)))
	e, _ := newTestEnvelope(t)
	h1, err := EventHash(e)
	if err != nil {
		t.Fatal(err)
	}

	full, err := e.EncodeFull()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeEnvelope(full)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := EventHash(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash mismatch after round-trip: %s vs %s", h1, h2)
	}
	if h1 != e.Hash {
		t.Fatalf("envelope.Hash %s does not match recomputed %s", e.Hash, h1)
	}
}

func TestVerifyFailsOnBitFlips(t *testing.T) {
	// Invariant 7: flipping any signed field invalidates sig.
	cases := []func(e *Envelope){
		func(e *Envelope) { e.Payload = json.RawMessage(`{"from":"addr1","to":"addr2","amount":11,"fee":1}`) },
		func(e *Envelope) { e.Ts++ },
		func(e *Envelope) { e.Nonce++ },
		func(e *Envelope) { e.Issuer = e.Issuer[:len(e.Issuer)-1] + "1" },
	}
	for i, mutate := range cases {
		e, _ := newTestEnvelope(t)
		mutate(e)
		if err := Verify(e); err == nil {
			t.Fatalf("case %d: expected verify failure after mutation", i)
		}
	}
}

func TestVerifyRejectsKeyMismatch(t *testing.T) {
	e, _ := newTestEnvelope(t)
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	otherPubStr, err := encodeMultibasePub(otherPub)
	if err != nil {
		t.Fatal(err)
	}
	e.Pub = otherPubStr
	if err := Verify(e); err == nil {
		t.Fatal("expected key mismatch error")
	}
}
