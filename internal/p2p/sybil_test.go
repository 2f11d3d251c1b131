package p2p

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/multiformats/go-multibase"

	"github.com/clawnet/node/internal/finality"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mintPowTicket(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, ts int64, difficulty int) PowTicket {
	t.Helper()
	peerID, err := PeerIDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	var nonce uint64
	var hash string
	for {
		ticket := PowTicket{Peer: peerID, Ts: ts, Nonce: nonce}
		hash = powTicketHash(ticket)
		if leadingZeroBits(hash) >= difficulty {
			break
		}
		nonce++
		if nonce > 200000 {
			t.Fatalf("could not mint a ticket at difficulty %d within bound", difficulty)
		}
	}
	sig := ed25519.Sign(priv, []byte(hash))
	sigStr, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		t.Fatalf("encode sig: %v", err)
	}
	return PowTicket{Peer: peerID, Ts: ts, Nonce: nonce, Difficulty: difficulty, Hash: hash, Sig: sigStr}
}

func TestEligibilityNonePolicyAlwaysEligible(t *testing.T) {
	c := NewEligibilityChecker(finality.PolicyNone, nil, 0, 0, time.Minute, nil)
	if !c.IsEligible("peer:claw:anything") {
		t.Fatal("expected none policy to accept any peer")
	}
}

func TestEligibilityAllowlist(t *testing.T) {
	c := NewEligibilityChecker(finality.PolicyAllowlist, []string{"peer:claw:good"}, 0, 0, time.Minute, nil)
	if !c.IsEligible("peer:claw:good") {
		t.Fatal("expected allowlisted peer to be eligible")
	}
	if c.IsEligible("peer:claw:bad") {
		t.Fatal("expected non-allowlisted peer to be ineligible")
	}
}

func TestEligibilityPowAnnounceAndCheck(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	now := time.Unix(1_700_000_000, 0)
	c := NewEligibilityChecker(finality.PolicyPow, nil, 4, 0, time.Minute, fixedClock(now))

	ticket := mintPowTicket(t, pub, priv, now.Unix(), 4)
	if err := c.AnnouncePow(ticket, pub); err != nil {
		t.Fatalf("announce pow: %v", err)
	}
	if !c.IsEligible(ticket.Peer) {
		t.Fatal("expected peer with valid pow ticket to be eligible")
	}
}

func TestEligibilityPowRejectsStaleTimestamp(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	now := time.Unix(1_700_000_000, 0)
	c := NewEligibilityChecker(finality.PolicyPow, nil, 1, 0, time.Minute, fixedClock(now))

	staleTs := now.Add(-time.Hour).Unix()
	ticket := mintPowTicket(t, pub, priv, staleTs, 1)
	if err := c.AnnouncePow(ticket, pub); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestEligibilityStakeRequiresMinimum(t *testing.T) {
	peerPub, peerPriv, _ := ed25519.GenerateKey(nil)
	ctrlPub, ctrlPriv, _ := ed25519.GenerateKey(nil)
	c := NewEligibilityChecker(finality.PolicyStake, nil, 0, 1000, time.Minute, nil)

	peerID, _ := PeerIDFromPublicKey(peerPub)
	proof := StakeProof{Peer: peerID, Controller: "did:claw:controller", StakeEvent: "evt-1", MinStake: 500}
	msg := []byte(proof.Peer + "|" + proof.Controller + "|" + proof.StakeEvent)
	sig, _ := multibase.Encode(multibase.Base58BTC, ed25519.Sign(peerPriv, msg))
	sigCtrl, _ := multibase.Encode(multibase.Base58BTC, ed25519.Sign(ctrlPriv, msg))
	proof.Sig, proof.SigController = sig, sigCtrl

	lookup := func(hash string) (uint64, bool) {
		if hash == "evt-1" {
			return 2000, true
		}
		return 0, false
	}
	if err := c.AnnounceStake(proof, peerPub, ctrlPub, lookup); err == nil {
		t.Fatal("expected 500 < configured minimum 1000 to be rejected")
	}

	proof.MinStake = 1500
	msg = []byte(proof.Peer + "|" + proof.Controller + "|" + proof.StakeEvent)
	sig, _ = multibase.Encode(multibase.Base58BTC, ed25519.Sign(peerPriv, msg))
	sigCtrl, _ = multibase.Encode(multibase.Base58BTC, ed25519.Sign(ctrlPriv, msg))
	proof.Sig, proof.SigController = sig, sigCtrl
	if err := c.AnnounceStake(proof, peerPub, ctrlPub, lookup); err != nil {
		t.Fatalf("expected sufficient stake to be accepted, got %v", err)
	}
	if !c.IsEligible(peerID) {
		t.Fatal("expected peer with accepted stake proof to be eligible")
	}
}
