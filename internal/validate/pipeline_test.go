package validate

import (
	"crypto/ed25519"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/state"
	"github.com/clawnet/node/internal/store"
	"github.com/clawnet/node/pkg/clawid"
)

type testIssuer struct {
	priv ed25519.PrivateKey
	did  string
	addr clawid.Address
}

func newTestIssuer(t *testing.T) testIssuer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	did, err := clawid.DIDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive did: %v", err)
	}
	addr, err := clawid.AddressFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	return testIssuer{priv: priv, did: did, addr: addr}
}

func signedEnvelope(t *testing.T, iss testIssuer, eventType string, nonce uint64, payload interface{}) *codec.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := &codec.Envelope{
		V:       ProtocolVersion,
		Type:    eventType,
		Issuer:  iss.did,
		Ts:      time.Now().UnixMilli(),
		Nonce:   nonce,
		Payload: raw,
	}
	if err := codec.Sign(env, iss.priv); err != nil {
		t.Fatalf("sign envelope: %v", err)
	}
	return env
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *state.State) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "wal.log"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	derived := state.New()
	p := New(DefaultConfig(), st, derived, nil)
	return p, st, derived
}

func TestS1TransferAccepted(t *testing.T) {
	p, st, derived := newTestPipeline(t)
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	env := signedEnvelope(t, alice, "wallet.transfer", 1, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 10, "fee": 1,
	})
	if err := p.Submit(env); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := derived.Balance(alice.addr); got != 89 {
		t.Fatalf("alice balance = %d, want 89", got)
	}
	if got := derived.Balance(bob.addr); got != 10 {
		t.Fatalf("bob balance = %d, want 10", got)
	}
	if got := st.LastByIssuer(alice.did); got != env.Hash {
		t.Fatalf("lastByIssuer = %q, want %q", got, env.Hash)
	}
}

func TestS2ReplayRejected(t *testing.T) {
	p, st, derived := newTestPipeline(t)
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	env := signedEnvelope(t, alice, "wallet.transfer", 1, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 10, "fee": 1,
	})
	if err := p.Submit(env); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	lenBefore := st.Len()
	balBefore := derived.Balance(alice.addr)

	err := p.Submit(env)
	rej, ok := err.(*Rejection)
	if !ok || rej.Kind != KindReplay {
		t.Fatalf("expected Replay rejection, got %v", err)
	}
	if st.Len() != lenBefore {
		t.Fatalf("log length changed on replay: %d -> %d", lenBefore, st.Len())
	}
	if derived.Balance(alice.addr) != balBefore {
		t.Fatalf("state mutated on replay")
	}
}

func TestS3NonceGapBuffersThenDrains(t *testing.T) {
	p, _, derived := newTestPipeline(t)
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	envNonce1 := signedEnvelope(t, alice, "wallet.transfer", 1, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 1, "fee": 0,
	})
	if err := p.Submit(envNonce1); err != nil {
		t.Fatalf("nonce 1 submit failed: %v", err)
	}

	envNonce3 := signedEnvelope(t, alice, "wallet.transfer", 3, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 1, "fee": 0,
	})
	if err := p.Submit(envNonce3); err != ErrBuffered {
		t.Fatalf("nonce 3 submit = %v, want ErrBuffered", err)
	}
	if got := derived.Balance(bob.addr); got != 1 {
		t.Fatalf("bob balance after buffering nonce 3 = %d, want 1 (only nonce 1 applied)", got)
	}

	envNonce2 := signedEnvelope(t, alice, "wallet.transfer", 2, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 1, "fee": 0,
	})
	if err := p.Submit(envNonce2); err != nil {
		t.Fatalf("nonce 2 submit failed: %v", err)
	}
	if got := derived.Balance(bob.addr); got != 3 {
		t.Fatalf("bob balance after drain = %d, want 3", got)
	}
}

// TestS4EscrowConflictTieBreak exercises the live path, not ResolveBatch
// directly: two peers gossip competing disputes over the same escrow
// slot, both are admitted into the pipeline's resource contention
// window, and once the window elapses SettleResources keeps only the
// numerically lower hash (spec.md §4.3's "Conflict tie-break"), the same
// guarantee TestResolveBatchHashTieBreak checks at the batch-helper level.
func TestS4EscrowConflictTieBreak(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "wal.log"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	derived := state.New()
	now := time.Now()
	clock := func() time.Time { return now }
	cfg := DefaultConfig()
	cfg.ResourceSettleWindow = time.Second
	p := New(cfg, st, derived, clock)

	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	create := signedEnvelope(t, alice, "wallet.escrow.create", 1, map[string]interface{}{
		"resourceId": "esc-x", "depositor": alice.addr, "beneficiary": bob.addr, "amount": 50,
	})
	if err := p.Submit(create); err != nil {
		t.Fatalf("escrow create failed: %v", err)
	}
	h2 := create.Hash

	update1 := signedEnvelope(t, alice, "wallet.escrow.dispute", 2, map[string]interface{}{
		"resourceId": "esc-x", "resourcePrev": h2,
	})
	update2 := signedEnvelope(t, bob, "wallet.escrow.dispute", 1, map[string]interface{}{
		"resourceId": "esc-x", "resourcePrev": h2,
	})

	if err := p.Submit(update1); err != ErrResourcePending {
		t.Fatalf("update1 submit = %v, want ErrResourcePending", err)
	}
	if err := p.Submit(update2); err != ErrResourcePending {
		t.Fatalf("update2 submit = %v, want ErrResourcePending", err)
	}

	wantHash := update1.Hash
	if update2.Hash < update1.Hash {
		wantHash = update2.Hash
	}

	if results := p.SettleResources(); len(results) != 0 {
		t.Fatalf("settled %d slots before the window elapsed, want 0", len(results))
	}

	now = now.Add(cfg.ResourceSettleWindow)
	results := p.SettleResources()
	if len(results) != 1 {
		t.Fatalf("SettleResources returned %d results, want 1", len(results))
	}
	result := results[0]
	if result.Winner == nil || result.Winner.Hash != wantHash {
		t.Fatalf("winner = %v, want hash %s", result.Winner, wantHash)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("rejected %d candidates, want 1", len(result.Rejected))
	}
	if got := st.LastByResource("esc-x"); got != wantHash {
		t.Fatalf("lastByResource = %q, want %q (the lower hash)", got, wantHash)
	}
}

// TestResolveBatchHashTieBreak checks ResolveBatch in isolation: it is
// the batch-wide pre-filter Syncer.ApplyRangeResponse runs over a whole
// backfill response before submitting survivors one at a time, so an
// already-decided loser never has to wait out the pipeline's resource
// contention window at all.
func TestResolveBatchHashTieBreak(t *testing.T) {
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)

	update1 := signedEnvelope(t, alice, "wallet.escrow.dispute", 2, map[string]interface{}{
		"resourceId": "esc-x", "resourcePrev": "h2",
	})
	update2 := signedEnvelope(t, bob, "wallet.escrow.dispute", 1, map[string]interface{}{
		"resourceId": "esc-x", "resourcePrev": "h2",
	})

	survivors := ResolveBatch([]*codec.Envelope{update1, update2})
	if len(survivors) != 1 {
		t.Fatalf("ResolveBatch kept %d candidates, want 1", len(survivors))
	}
	wantHash := update1.Hash
	if update2.Hash < update1.Hash {
		wantHash = update2.Hash
	}
	if survivors[0].Hash != wantHash {
		t.Fatalf("ResolveBatch kept %s, want lower hash %s", survivors[0].Hash, wantHash)
	}
}

func TestReputationRecordRefMustExist(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	alice := newTestIssuer(t)

	missingRef := signedEnvelope(t, alice, "reputation.record", 1, map[string]interface{}{
		"subject": "did:claw:bob", "dimension": "delivery", "ref": "no-such-hash", "delta": 10,
	})
	err := p.Submit(missingRef)
	rej, ok := err.(*Rejection)
	if !ok || rej.Kind != KindPrecondition {
		t.Fatalf("expected Precondition rejection for a ref naming no event, got %v", err)
	}

	anchor := signedEnvelope(t, alice, "identity.create", 1, map[string]interface{}{"docHash": "doc-1"})
	if err := p.Submit(anchor); err != nil {
		t.Fatalf("anchor event failed: %v", err)
	}

	validRef := signedEnvelope(t, alice, "reputation.record", 2, map[string]interface{}{
		"subject": "did:claw:bob", "dimension": "delivery", "ref": anchor.Hash, "delta": 10,
	})
	if err := p.Submit(validRef); err != nil {
		t.Fatalf("submit with an existing ref failed: %v", err)
	}
}

func TestSignatureTamperRejected(t *testing.T) {
	p, _, derived := newTestPipeline(t)
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	env := signedEnvelope(t, alice, "wallet.transfer", 1, map[string]interface{}{
		"from": alice.addr, "to": bob.addr, "amount": 10, "fee": 1,
	})
	env.Payload = json.RawMessage(`{"from":"` + string(alice.addr) + `","to":"` + string(bob.addr) + `","amount":99999,"fee":0}`)

	err := p.Submit(env)
	rej, ok := err.(*Rejection)
	if !ok || rej.Kind != KindAuthFailure {
		t.Fatalf("expected AuthFailure rejection on tampered payload, got %v", err)
	}
}

func TestUnauthorizedTransferRejected(t *testing.T) {
	p, _, derived := newTestPipeline(t)
	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	env := signedEnvelope(t, alice, "wallet.transfer", 1, map[string]interface{}{
		"from": bob.addr, "to": alice.addr, "amount": 10, "fee": 0,
	})
	err := p.Submit(env)
	rej, ok := err.(*Rejection)
	if !ok || rej.Kind != KindAuthFailure {
		t.Fatalf("expected AuthFailure (from != issuer), got %v", err)
	}
}

func TestEscrowExpirePreconditionGatedByClock(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "wal.log"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	derived := state.New()
	now := time.Now()
	clock := func() time.Time { return now }
	p := New(DefaultConfig(), st, derived, clock)

	alice := newTestIssuer(t)
	bob := newTestIssuer(t)
	derived.Accounts[alice.addr] = 100

	create := signedEnvelope(t, alice, "wallet.escrow.create", 1, map[string]interface{}{
		"resourceId": "esc-exp", "depositor": alice.addr, "beneficiary": bob.addr,
		"amount": 50, "expiresAt": now.Add(time.Hour).UnixMilli(),
	})
	if err := p.Submit(create); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	expireEarly := signedEnvelope(t, alice, "wallet.escrow.expire", 2, map[string]interface{}{
		"resourceId": "esc-exp", "resourcePrev": create.Hash,
	})
	err = p.Submit(expireEarly)
	rej, ok := err.(*Rejection)
	if !ok || rej.Kind != KindPrecondition {
		t.Fatalf("expected Precondition rejection before deadline, got %v", err)
	}
}
