package p2p

import (
	"encoding/hex"
	"fmt"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/clawnet/node/internal/snapshot"
)

// SnapshotSyncPolicy bounds chunked snapshot transfer, sourced from the
// snapshot.maxBytes/snapshot.maxChunkBytes/snapshot.minSignatures config
// keys (spec.md §6).
type SnapshotSyncPolicy struct {
	MaxTotalBytes  int
	MaxChunkBytes  int
	MinSignatures  int
}

// SnapshotSync drives the requester side of spec.md §4.6's chunked
// snapshot sync: build a request, accumulate SnapshotResponse chunks into
// a snapshot.Reassembler, then verify quorum before handing the anchor
// hash back to the caller, which loads the state from Snapshot.
type SnapshotSync struct {
	policy SnapshotSyncPolicy
	re     *snapshot.Reassembler
}

// NewSnapshotSync starts a fresh reassembly session.
func NewSnapshotSync(policy SnapshotSyncPolicy) *SnapshotSync {
	return &SnapshotSync{policy: policy, re: snapshot.NewReassembler(policy.MaxTotalBytes)}
}

// AddChunk feeds one SnapshotResponse into the reassembler.
func (s *SnapshotSync) AddChunk(resp SnapshotResponse) error {
	return s.re.Add(snapshot.Chunk{
		Hash:       resp.Hash,
		ChunkIndex: resp.ChunkIndex,
		ChunkCount: resp.ChunkCount,
		TotalBytes: resp.TotalBytes,
		Snapshot:   resp.Snapshot,
	})
}

// Complete reports whether every chunk in the session has arrived.
func (s *SnapshotSync) Complete() bool { return s.re.Complete() }

// Finish reassembles the transfer, verifies the aggregated snapshot
// carries at least MinSignatures valid peer signatures, and returns the
// event hash to request a catch-up range after (spec.md §4.6's "loads
// snapshot's state, then requests a range after snapshot.at"). It does not
// load the state itself; see Snapshot.
func (s *SnapshotSync) Finish(pubkeys map[string]*bls.PublicKey) (anchorHash string, err error) {
	snap, err := s.re.Reassemble()
	if err != nil {
		return "", err
	}
	if err := snapshot.VerifyQuorum(snap, pubkeys, s.policy.MinSignatures); err != nil {
		return "", err
	}
	return snap.At, nil
}

// Snapshot returns the reassembled snapshot once Finish has succeeded, so
// the caller can load its state via snapshot.LoadState.
func (s *SnapshotSync) Snapshot() (*snapshot.Snapshot, error) {
	return s.re.Reassemble()
}

// SplitForResponse chunks a locally built snapshot into the
// SnapshotResponse wire messages a responder publishes on the responses
// topic.
func SplitForResponse(snap *snapshot.Snapshot, maxChunkBytes int) ([]SnapshotResponse, error) {
	chunks, err := snapshot.Split(snap, maxChunkBytes)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotResponse, len(chunks))
	for i, c := range chunks {
		out[i] = SnapshotResponse{Hash: c.Hash, ChunkIndex: c.ChunkIndex, ChunkCount: c.ChunkCount, TotalBytes: c.TotalBytes, Snapshot: c.Snapshot}
	}
	return out, nil
}

// ParseBLSPublicKey decodes a hex-encoded compressed BLS public key, the
// form peer public keys are expected to be configured in as (the same
// encoding snapshot signatures use).
func ParseBLSPublicKey(hexKey string) (*bls.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("p2p: decode bls pubkey: %w", err)
	}
	var pub bls.PublicKey
	if err := pub.Deserialize(raw); err != nil {
		return nil, fmt.Errorf("p2p: deserialize bls pubkey: %w", err)
	}
	return &pub, nil
}
