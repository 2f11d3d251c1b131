package p2p

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/finality"
)

// EligibilityChecker evaluates spec.md §4.6's peer eligibility rule for
// the active sybil policy. It holds whatever proofs peers have announced
// so far (PoW tickets, stake proofs) and answers IsEligible per message.
type EligibilityChecker struct {
	mu         sync.RWMutex
	policy     finality.SybilPolicy
	allowlist  map[string]struct{}
	difficulty int
	minStake   uint64
	maxSkew    time.Duration
	clock      func() time.Time

	pow   map[string]PowTicket
	stake map[string]StakeProof
}

// NewEligibilityChecker builds a checker for policy. allowlist, difficulty,
// and minStake are only consulted by their respective policies. clock
// defaults to time.Now.
func NewEligibilityChecker(policy finality.SybilPolicy, allowlist []string, difficulty int, minStake uint64, maxSkew time.Duration, clock func() time.Time) *EligibilityChecker {
	if clock == nil {
		clock = time.Now
	}
	al := make(map[string]struct{}, len(allowlist))
	for _, id := range allowlist {
		al[id] = struct{}{}
	}
	return &EligibilityChecker{
		policy:     policy,
		allowlist:  al,
		difficulty: difficulty,
		minStake:   minStake,
		maxSkew:    maxSkew,
		clock:      clock,
		pow:        make(map[string]PowTicket),
		stake:      make(map[string]StakeProof),
	}
}

// powTicketHash recomputes the digest a PowTicket claims: sha256 over the
// peer id, timestamp, and nonce, mirroring the rest of the protocol's
// content-hashing convention (codec.HashBytes).
func powTicketHash(t PowTicket) string {
	msg := fmt.Sprintf("%s|%d|%d", t.Peer, t.Ts, t.Nonce)
	return codec.HashBytes([]byte(msg))
}

// leadingZeroBits counts the leading zero bits of a lowercase-hex digest.
func leadingZeroBits(hexDigest string) int {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return 0
	}
	n := 0
	for _, b := range raw {
		if b == 0 {
			n += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return n
			}
			n++
		}
	}
	return n
}

// AnnouncePow validates and records a PoW eligibility ticket from pub's
// owner. ts is checked against the checker's clock within maxSkew, hash
// must match the recomputed ticket digest, and that digest must carry at
// least the configured difficulty leading zero bits.
func (c *EligibilityChecker) AnnouncePow(t PowTicket, pub ed25519.PublicKey) error {
	wantPeer, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return err
	}
	if wantPeer != t.Peer {
		return ErrSenderMismatch
	}
	skew := c.clock().Unix() - t.Ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > c.maxSkew {
		return fmt.Errorf("%w: pow ticket timestamp outside clock skew", ErrMalformed)
	}
	if powTicketHash(t) != t.Hash {
		return fmt.Errorf("%w: pow ticket hash does not match peer/ts/nonce", ErrMalformed)
	}
	if leadingZeroBits(t.Hash) < c.difficulty {
		return fmt.Errorf("%w: pow ticket below required difficulty", ErrMalformed)
	}
	sig, err := decodeMultibaseSig(t.Sig)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, []byte(t.Hash), sig) {
		return ErrSignatureInvalid
	}
	c.mu.Lock()
	c.pow[t.Peer] = t
	c.mu.Unlock()
	return nil
}

// StakeLookup resolves a stakeEvent hash to the staked amount it records,
// the interface the validation pipeline's derived state satisfies.
type StakeLookup func(stakeEventHash string) (amount uint64, ok bool)

// AnnounceStake validates and records a stake eligibility proof: the
// referenced stake event must exist and meet minStake, the controller's
// signature over the proof must verify, and the announcing peer's own
// signature must verify.
func (c *EligibilityChecker) AnnounceStake(p StakeProof, peerPub, controllerPub ed25519.PublicKey, lookup StakeLookup) error {
	wantPeer, err := PeerIDFromPublicKey(peerPub)
	if err != nil {
		return err
	}
	if wantPeer != p.Peer {
		return ErrSenderMismatch
	}
	amount, ok := lookup(p.StakeEvent)
	if !ok {
		return fmt.Errorf("%w: stake proof references unknown stake event", ErrMalformed)
	}
	if amount < p.MinStake || p.MinStake < c.minStake {
		return fmt.Errorf("%w: stake below required minimum", ErrMalformed)
	}
	msg := []byte(p.Peer + "|" + p.Controller + "|" + p.StakeEvent)
	sig, err := decodeMultibaseSig(p.Sig)
	if err != nil {
		return err
	}
	if !ed25519.Verify(peerPub, msg, sig) {
		return ErrSignatureInvalid
	}
	sigController, err := decodeMultibaseSig(p.SigController)
	if err != nil {
		return err
	}
	if !ed25519.Verify(controllerPub, msg, sigController) {
		return ErrSignatureInvalid
	}
	c.mu.Lock()
	c.stake[p.Peer] = p
	c.mu.Unlock()
	return nil
}

// IsEligible reports whether peerID counts toward peer-count finality
// under the active policy (spec.md §4.6).
func (c *EligibilityChecker) IsEligible(peerID string) bool {
	switch c.policy {
	case finality.PolicyNone:
		return true
	case finality.PolicyAllowlist:
		c.mu.RLock()
		_, ok := c.allowlist[peerID]
		c.mu.RUnlock()
		return ok
	case finality.PolicyPow:
		c.mu.RLock()
		_, ok := c.pow[peerID]
		c.mu.RUnlock()
		return ok
	case finality.PolicyStake:
		c.mu.RLock()
		p, ok := c.stake[peerID]
		c.mu.RUnlock()
		return ok && p.MinStake >= c.minStake
	default:
		return false
	}
}
