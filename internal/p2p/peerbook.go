package p2p

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// PeerBook resolves a transport peer id to the Ed25519 public key that
// signs its P2P envelopes. It is the "peer address book" spec.md §5 calls
// out as mutated only by the sync engine and read-only everywhere else:
// a sender's P2P envelope is verified against a key the local node
// already trusts (from config or a prior PeerRotate), never against a
// key the message itself declares, unlike the event path's DID-derives-
// from-pub convention.
type PeerBook struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewPeerBook builds a book seeded with statically configured peers
// (bootstrap/allowlist entries whose keys are known out of band).
func NewPeerBook(seed map[string]ed25519.PublicKey) *PeerBook {
	keys := make(map[string]ed25519.PublicKey, len(seed))
	for id, pub := range seed {
		keys[id] = pub
	}
	return &PeerBook{keys: keys}
}

// Resolve returns the known public key for peerID, if any.
func (b *PeerBook) Resolve(peerID string) (ed25519.PublicKey, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pub, ok := b.keys[peerID]
	return pub, ok
}

// Add records peerID's public key, called when a peer is first dialed or
// discovered with an out-of-band-verified key.
func (b *PeerBook) Add(peerID string, pub ed25519.PublicKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[peerID] = pub
}

// ApplyRotate verifies and applies a PeerRotate announcement: old must
// sign the rotation with the key currently on file for it (proving
// continuity with what the book already trusts), and new must counter-
// sign with the incoming key (proving possession), per spec.md §4.6.
func (b *PeerBook) ApplyRotate(rot PeerRotate, oldPub, newPub ed25519.PublicKey) error {
	wantOld, err := PeerIDFromPublicKey(oldPub)
	if err != nil {
		return err
	}
	if wantOld != rot.Old {
		return ErrSenderMismatch
	}
	wantNew, err := PeerIDFromPublicKey(newPub)
	if err != nil {
		return err
	}
	if wantNew != rot.New {
		return ErrSenderMismatch
	}
	msg := []byte(fmt.Sprintf("%s|%s|%d", rot.Old, rot.New, rot.Ts))
	oldSig, err := decodeMultibaseSig(rot.Sig)
	if err != nil {
		return err
	}
	if !ed25519.Verify(oldPub, msg, oldSig) {
		return ErrSignatureInvalid
	}
	newSig, err := decodeMultibaseSig(rot.SigNew)
	if err != nil {
		return err
	}
	if !ed25519.Verify(newPub, msg, newSig) {
		return ErrSignatureInvalid
	}
	b.mu.Lock()
	delete(b.keys, rot.Old)
	b.keys[rot.New] = newPub
	b.mu.Unlock()
	return nil
}
