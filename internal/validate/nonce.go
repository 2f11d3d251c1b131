package validate

import (
	"sort"
	"sync"

	"github.com/clawnet/node/internal/codec"
)

// NonceWindow is the per-issuer buffer size for accepted-but-not-yet-
// contiguous events awaiting a gap fill (spec.md §3.2).
const NonceWindow = 5

// nonceTracker holds committedNonce and the buffered window per issuer.
// It is owned exclusively by the pipeline's single writer; see
// Pipeline.Submit for the serialization point.
type nonceTracker struct {
	mu        sync.Mutex
	committed map[string]uint64
	hashes    map[string]map[uint64]string
	buffered  map[string]map[uint64]*codec.Envelope
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{
		committed: make(map[string]uint64),
		hashes:    make(map[string]map[uint64]string),
		buffered:  make(map[string]map[uint64]*codec.Envelope),
	}
}

func (t *nonceTracker) committedNonce(issuer string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed[issuer]
}

// classify reports how nonce relates to the issuer's committed nonce:
// -1 duplicate/behind (reject), 0 next-in-order (apply now), 1 within the
// window but not contiguous (buffer), 2 beyond the window (reject).
func (t *nonceTracker) classify(issuer string, nonce uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	committed := t.committed[issuer]
	switch {
	case nonce <= committed:
		return -1
	case nonce == committed+1:
		return 0
	case nonce <= committed+NonceWindow:
		return 1
	default:
		return 2
	}
}

func (t *nonceTracker) buffer(issuer string, nonce uint64, env *codec.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	win, ok := t.buffered[issuer]
	if !ok {
		win = make(map[uint64]*codec.Envelope)
		t.buffered[issuer] = win
	}
	win[nonce] = env
}

func (t *nonceTracker) markCommitted(issuer string, nonce uint64, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nonce > t.committed[issuer] {
		t.committed[issuer] = nonce
	}
	byNonce, ok := t.hashes[issuer]
	if !ok {
		byNonce = make(map[uint64]string)
		t.hashes[issuer] = byNonce
	}
	byNonce[nonce] = hash
}

// hashAt returns the hash committed for issuer's nonce, if any. Used to
// tell a harmless duplicate resend (same hash) apart from a genuine
// nonce-level conflict (a different event reusing an already-committed
// nonce) when classify reports the nonce as duplicate/behind.
func (t *nonceTracker) hashAt(issuer string, nonce uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hash, ok := t.hashes[issuer][nonce]
	return hash, ok
}

// nextBuffered pops the envelope for committed+1 if present, for the
// drain loop to re-run through the pipeline (spec.md §4.3's
// buffered-event drain).
func (t *nonceTracker) nextBuffered(issuer string) (*codec.Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	win, ok := t.buffered[issuer]
	if !ok {
		return nil, false
	}
	next := t.committed[issuer] + 1
	env, ok := win[next]
	if !ok {
		return nil, false
	}
	delete(win, next)
	return env, true
}

// pendingNonces returns the buffered nonces for issuer in ascending order,
// used only by tests to assert window contents deterministically.
func (t *nonceTracker) pendingNonces(issuer string) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	win := t.buffered[issuer]
	out := make([]uint64, 0, len(win))
	for n := range win {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
