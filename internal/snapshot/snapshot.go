// Package snapshot builds, signs, verifies, and loads periodic snapshots
// of derived state (spec.md §3.5, §4.7), so a cold-starting or far-behind
// node can bootstrap without replaying the entire event log.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/state"
	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Errorf("snapshot: bls init: %w", err))
	}
}

// SnapshotSigningDomain domain-separates snapshot signatures from event
// and P2P envelope signatures, following the same ASCII-prefix scheme as
// codec.EventSigningDomain.
const SnapshotSigningDomain = "clawtoken:snapshot:v1:"

// Signature is one peer's attestation to a snapshot's hash, using that
// peer's BLS12-381 key (distinct from its Ed25519 event-signing key):
// BLS signatures support cheap aggregation across many signers, which
// Ed25519 does not, so snapshots use BLS specifically to let a responder
// ship one aggregate instead of N discrete signatures over the wire
// (Aggregate, below).
type Signature struct {
	Signer string `json:"signer"`
	Sig    string `json:"sig"` // hex-encoded compressed BLS signature
}

// Snapshot mirrors spec.md §3.5's record.
type Snapshot struct {
	V          uint16          `json:"v"`
	At         string          `json:"at"`             // event hash the snapshot was taken at
	Prev       string          `json:"prev,omitempty"` // previous snapshot hash, if any
	State      []byte          `json:"state"`           // canonical bytes of the derived state
	Hash       string          `json:"hash"`
	Signatures []Signature     `json:"signatures"`
}

type signingView struct {
	V     uint16 `json:"v"`
	At    string `json:"at"`
	Prev  string `json:"prev,omitempty"`
	State []byte `json:"state"`
}

func (s *Snapshot) signingView() signingView {
	return signingView{V: s.V, At: s.At, Prev: s.Prev, State: s.State}
}

// Hashable returns canonicalize(snapshot - signatures), the bytes both
// Hash and each peer signature are computed over.
func (s *Snapshot) Hashable() ([]byte, error) {
	return codec.CanonicalizeNoLimit(s.signingView())
}

// Build serializes st's derived state into a new, unsigned snapshot
// anchored at atHash (typically store.LatestHash()).
func Build(st *state.State, atHash, prevSnapshotHash string) (*Snapshot, error) {
	serialized, err := codec.CanonicalizeNoLimit(st)
	if err != nil {
		return nil, fmt.Errorf("snapshot: serialize state: %w", err)
	}
	snap := &Snapshot{V: 1, At: atHash, Prev: prevSnapshotHash, State: serialized}
	h, err := ComputeHash(snap)
	if err != nil {
		return nil, err
	}
	snap.Hash = h
	return snap, nil
}

// ComputeHash computes snapshot hash the same way events do: SHA-256 of
// canonicalize(snapshot - signatures), lowercase hex.
func ComputeHash(snap *Snapshot) (string, error) {
	b, err := snap.Hashable()
	if err != nil {
		return "", err
	}
	return codec.HashBytes(b), nil
}

// Sign appends peerID's BLS attestation over the snapshot's signing
// bytes (domain-separated), mirroring codec.Sign's event-signing shape.
func Sign(snap *Snapshot, peerID string, priv *bls.SecretKey) error {
	msg, err := snap.Hashable()
	if err != nil {
		return err
	}
	full := append([]byte(SnapshotSigningDomain), msg...)
	sig := priv.SignByte(full)
	snap.Signatures = append(snap.Signatures, Signature{
		Signer: peerID,
		Sig:    hex.EncodeToString(sig.Serialize()),
	})
	return nil
}

// VerifySignature checks one peer's attestation against their known
// public key.
func VerifySignature(snap *Snapshot, sig Signature, pub *bls.PublicKey) (bool, error) {
	msg, err := snap.Hashable()
	if err != nil {
		return false, err
	}
	full := append([]byte(SnapshotSigningDomain), msg...)
	raw, err := hex.DecodeString(sig.Sig)
	if err != nil {
		return false, fmt.Errorf("snapshot: decode sig: %w", err)
	}
	var s bls.Sign
	if err := s.Deserialize(raw); err != nil {
		return false, fmt.Errorf("snapshot: deserialize sig: %w", err)
	}
	return s.VerifyByte(pub, full), nil
}

// ErrInsufficientSignatures is returned when a snapshot carries fewer
// valid signatures than the local minSnapshotSignatures policy requires.
var ErrInsufficientSignatures = errors.New("snapshot: insufficient valid signatures")

// VerifyQuorum counts the valid signatures on snap (against the known
// peer public keys in pubkeys, keyed by signer id) and requires at
// least min of them, per spec.md §3.5's "local store requires at least
// minSnapshotSignatures before accepting an externally-sourced snapshot".
func VerifyQuorum(snap *Snapshot, pubkeys map[string]*bls.PublicKey, min int) error {
	valid := 0
	for _, sig := range snap.Signatures {
		pub, ok := pubkeys[sig.Signer]
		if !ok {
			continue
		}
		ok, err := VerifySignature(snap, sig, pub)
		if err != nil {
			continue
		}
		if ok {
			valid++
		}
	}
	if valid < min {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSignatures, valid, min)
	}
	return nil
}

// Aggregate combines every signature on snap into a single compressed
// BLS signature, letting a snapshot responder ship one aggregate instead
// of the full per-signer list over the wire (spec.md §4.6's chunked
// snapshot sync). The caller separately retains the per-signer list for
// local quorum bookkeeping; Aggregate is purely a transport optimization.
func Aggregate(snap *Snapshot) ([]byte, error) {
	if len(snap.Signatures) == 0 {
		return nil, errors.New("snapshot: no signatures to aggregate")
	}
	var agg bls.Sign
	for i, sig := range snap.Signatures {
		raw, err := hex.DecodeString(sig.Sig)
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode sig %d: %w", i, err)
		}
		var s bls.Sign
		if err := s.Deserialize(raw); err != nil {
			return nil, fmt.Errorf("snapshot: deserialize sig %d: %w", i, err)
		}
		if i == 0 {
			agg = s
		} else {
			agg.Add(&s)
		}
	}
	return agg.Serialize(), nil
}

// LoadState deserializes snap.State back into a derived state, the
// cold-start load path (spec.md §4.7).
func LoadState(snap *Snapshot) (*state.State, error) {
	st := state.New()
	if err := json.Unmarshal(snap.State, st); err != nil {
		return nil, fmt.Errorf("snapshot: decode state: %w", err)
	}
	return st, nil
}
