package p2p

import "fmt"

// RangeRequest asks a peer for events after from, up to limit of them
// (spec.md §4.6's range-request backfill). from is typically the
// requester's own latest local hash.
type RangeRequest struct {
	From  string `json:"from"`
	Limit int    `json:"limit"`
}

// RangeResponse carries a page of canonical event bytes plus the cursor
// (last hash returned) the requester should pass as the next from.
type RangeResponse struct {
	Events [][]byte `json:"events"`
	Cursor string   `json:"cursor"`
}

// SnapshotRequest asks a peer for its latest snapshot built at or after
// fromHash.
type SnapshotRequest struct {
	FromHash string `json:"fromHash"`
}

// SnapshotResponse is one chunk of a snapshot transfer; the requester
// reassembles the full snapshot across chunkCount chunks sharing hash
// (see internal/snapshot.Reassembler, which this mirrors field-for-field
// so a SnapshotResponse can be fed straight into it).
type SnapshotResponse struct {
	Hash       string `json:"hash"`
	ChunkIndex int    `json:"chunkIndex"`
	ChunkCount int    `json:"chunkCount"`
	TotalBytes int    `json:"totalBytes"`
	Snapshot   []byte `json:"snapshot"`
}

// PowTicket is a peer's proof-of-work eligibility announcement under
// sybilPolicy=pow: hash must have at least difficulty leading zero bits,
// ts must fall within the local clock-skew tolerance, and sig must verify
// against the announcing peer's key.
type PowTicket struct {
	Peer       string `json:"peer"`
	Ts         int64  `json:"ts"`
	Nonce      uint64 `json:"nonce"`
	Difficulty int    `json:"difficulty"`
	Hash       string `json:"hash"`
	Sig        string `json:"sig"`
}

// StakeProof is a peer's eligibility announcement under sybilPolicy=stake:
// it references a wallet.stake event already present in the local log,
// carries the controller's signature authorizing the stake-to-peer
// binding, and the peer's own signature over the proof.
type StakeProof struct {
	Peer          string `json:"peer"`
	Controller    string `json:"controller"`
	StakeEvent    string `json:"stakeEvent"`
	MinStake      uint64 `json:"minStake"`
	Sig           string `json:"sig"`
	SigController string `json:"sigController"`
}

// PeerRotate announces a peer key rotation: old must sign the rotation
// (proving continuity) and new must counter-sign (proving possession),
// per spec.md §4.6.
type PeerRotate struct {
	Old   string `json:"old"`
	New   string `json:"new"`
	Ts    int64  `json:"ts"`
	Sig   string `json:"sig"`
	SigNew string `json:"sigNew"`
}

// Body is the tagged union carried as a p2p Envelope's payload on the
// requests/responses topics. Exactly one variant field is set per
// message (spec.md §6).
type Body struct {
	RangeRequest     *RangeRequest     `json:"rangeRequest,omitempty"`
	RangeResponse    *RangeResponse    `json:"rangeResponse,omitempty"`
	SnapshotRequest  *SnapshotRequest  `json:"snapshotRequest,omitempty"`
	SnapshotResponse *SnapshotResponse `json:"snapshotResponse,omitempty"`
	PowTicket        *PowTicket        `json:"powTicket,omitempty"`
	StakeProof       *StakeProof       `json:"stakeProof,omitempty"`
	PeerRotate       *PeerRotate       `json:"peerRotate,omitempty"`
}

// Validate enforces the tagged-union discipline: exactly one variant set.
func (b Body) Validate() error {
	set := 0
	for _, v := range []bool{
		b.RangeRequest != nil,
		b.RangeResponse != nil,
		b.SnapshotRequest != nil,
		b.SnapshotResponse != nil,
		b.PowTicket != nil,
		b.StakeProof != nil,
		b.PeerRotate != nil,
	} {
		if v {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: got %d variants set", ErrBadTaggedUnion, set)
	}
	return nil
}
