package validate

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/state"
	"github.com/clawnet/node/internal/store"
	"github.com/clawnet/node/pkg/clawid"
)

// ProtocolVersion is the only envelope version this pipeline accepts
// (step 4, spec.md §4.3). A future major bump adds a second accepted
// value rather than replacing this one, per §6's topic-prefix versioning.
const ProtocolVersion uint16 = 1

// MaxClockSkew bounds how far an envelope's ts may drift from local time
// before being quarantined rather than rejected (spec.md §4.3 step 2).
const MaxClockSkew = 10 * time.Minute

// ResourceSettleWindow is how long a resource-mutating update (one whose
// payload carries a non-empty resourcePrev) waits in the contention
// window before SettleResources commits it, giving a concurrently
// gossiped sibling update for the same slot a chance to arrive and be
// tie-broken by hash (spec.md §4.3's "Conflict tie-break") instead of
// being committed first-come-first-served.
const ResourceSettleWindow = 2 * time.Second

// Config holds the pipeline's tunables, sourced from the node's YAML
// config (spec.md §6). The pipeline does not read NonceWindow: the nonce
// tracker always uses the NonceWindow constant (5) as its window size.
type Config struct {
	NonceWindow          uint64
	MaxClockSkew         time.Duration
	ResourceSettleWindow time.Duration
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{NonceWindow: NonceWindow, MaxClockSkew: MaxClockSkew, ResourceSettleWindow: ResourceSettleWindow}
}

// Pipeline is the single gate every event passes through before being
// appended to the store and reduced into state. It owns the nonce
// tracker and the resource contention window; the store and state it
// validates against are supplied by the node and mutated only through
// Apply (step 9).
type Pipeline struct {
	cfg       Config
	clock     func() time.Time
	store     *store.Store
	state     *state.State
	nonces    *nonceTracker
	resources *resourceWindow
}

// New builds a pipeline over st/derived with the given config. clock
// defaults to time.Now; tests may override it to make timestamp-skew,
// escrow-expiry, and resource-settle-window checks deterministic.
func New(cfg Config, st *store.Store, derived *state.State, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	if cfg.ResourceSettleWindow == 0 {
		cfg.ResourceSettleWindow = ResourceSettleWindow
	}
	return &Pipeline{cfg: cfg, clock: clock, store: st, state: derived, nonces: newNonceTracker(), resources: newResourceWindow()}
}

// Submit runs env through the ordered checks (schema through
// resource-conflict; replay classification at step 6 ahead of the
// resource-conflict check at step 7, spec.md §4.3) and, on success,
// either commits it immediately or defers it into the resource
// contention window. It returns ErrBuffered if env was accepted into the
// nonce window but not yet applied, or ErrResourcePending if env is
// waiting on SettleResources to resolve a same-slot race — neither is a
// failure.
func (p *Pipeline) Submit(env *codec.Envelope) error {
	class, err := p.runChecks(env)
	if err != nil {
		return err
	}
	if class == 1 { // within window, not contiguous: buffer
		p.nonces.buffer(env.Issuer, env.Nonce, env)
		return ErrBuffered
	}
	return p.acceptOrWindow(env)
}

// acceptOrWindow commits env immediately, unless it is a resource-
// mutating update (non-empty resourcePrev), in which case it is handed
// to the contention window so SettleResources can apply the hash
// tie-break across every candidate that arrives for the same slot before
// any of them is durably committed.
func (p *Pipeline) acceptOrWindow(env *codec.Envelope) error {
	if slot, ok := resourceSlot(env); ok {
		p.resources.add(slot, env, p.clock())
		return ErrResourcePending
	}
	if err := p.commit(env); err != nil {
		return err
	}
	p.drain(env.Issuer)
	return nil
}

// drain re-runs validation on the issuer's next contiguous buffered
// nonce after every successful apply or window-admission, repeating
// until a gap is hit.
func (p *Pipeline) drain(issuer string) {
	for {
		next, ok := p.nonces.nextBuffered(issuer)
		if !ok {
			return
		}
		if _, err := p.runChecks(next); err != nil {
			continue
		}
		if err := p.acceptOrWindow(next); err != nil && !errors.Is(err, ErrResourcePending) {
			continue
		}
	}
}

// SettleResult is the outcome of resolving one resource slot's
// contention window: Winner is the lowest-hash candidate (nil if it
// failed to commit after all), Rejected is every other candidate for
// that slot.
type SettleResult struct {
	Winner   *codec.Envelope
	Rejected []*codec.Envelope
}

// SettleResources resolves every resource slot whose oldest pending
// candidate has waited out cfg.ResourceSettleWindow, applying spec.md
// §4.3's mandatory hash tie-break: the candidate with the numerically
// smaller hash is committed, the rest are rejected. Called periodically
// by the node's background tick loop (and by tests directly).
func (p *Pipeline) SettleResources() []SettleResult {
	ready := p.resources.ready(p.clock(), p.cfg.ResourceSettleWindow)
	results := make([]SettleResult, 0, len(ready))
	for _, cands := range ready {
		if len(cands) == 0 {
			continue
		}
		winner := cands[0].env
		for _, c := range cands[1:] {
			if c.env.Hash < winner.Hash {
				winner = c.env
			}
		}
		rejected := make([]*codec.Envelope, 0, len(cands)-1)
		for _, c := range cands {
			if c.env != winner {
				rejected = append(rejected, c.env)
			}
		}
		if err := p.checkResourceConflict(winner); err != nil {
			rejected = append(rejected, winner)
			winner = nil
		} else if err := p.commit(winner); err != nil {
			rejected = append(rejected, winner)
			winner = nil
		} else {
			p.drain(winner.Issuer)
		}
		results = append(results, SettleResult{Winner: winner, Rejected: rejected})
	}
	return results
}

// resourceSlot reports the contention-window key for env's resource
// reference, and whether env is a resource-mutating update at all
// (creates, which carry no resourcePrev, are never windowed).
func resourceSlot(env *codec.Envelope) (string, bool) {
	ref, err := state.ExtractResourceRef(env.Payload)
	if err != nil || ref.ResourceID == "" || ref.ResourcePrev == "" {
		return "", false
	}
	return ref.ResourceID + "|" + ref.ResourcePrev, true
}

// commit performs step 9 (Apply): append to the store then run the
// reducer, in that order, so the log is durable before derived state
// reflects the event (spec.md §4.2's durability contract).
func (p *Pipeline) commit(env *codec.Envelope) error {
	full, err := env.EncodeFull()
	if err != nil {
		return reject(KindMalformed, "encode_failed", err)
	}
	ref, _ := state.ExtractResourceRef(env.Payload)
	meta := store.AppendMeta{Hash: env.Hash, Issuer: env.Issuer, Resource: ref.ResourceID}
	if err := p.store.Append(meta, full); err != nil && err != store.ErrAlreadyExists {
		return reject(KindTransient, "store_append_failed", err)
	}
	if err := state.Apply(p.state, env); err != nil {
		return reject(KindPrecondition, err.Error(), err)
	}
	p.nonces.markCommitted(env.Issuer, env.Nonce, env.Hash)
	return nil
}

// runChecks executes steps 1-7 (schema through resource-conflict) in
// spec.md §4.3's mandated order: replay classification (step 6) runs
// right after authorization (step 5) and strictly before the
// resource-conflict check (step 7), so a harmlessly re-delivered,
// already-committed event is recognized as a duplicate before it can be
// mis-read as conflicting with its own committed hash. It returns the
// nonce classification (see nonceTracker.classify) alongside the first
// failing check, if any; callers only run resource-conflict/precondition
// when classification is 0 (contiguous, ready to apply now) — a buffered
// event (class 1) defers both until it is drained. Step 8 (precondition)
// is otherwise folded into commit's call to state.Apply since the
// reducers themselves are the precondition authority (insufficient
// balance, bad escrow transition, ...), avoiding a second, divergent copy
// of that logic. Step 9 (commit) is handled by Submit/acceptOrWindow.
func (p *Pipeline) runChecks(env *codec.Envelope) (int, error) {
	if err := p.checkSchema(env); err != nil {
		return 0, err
	}
	if err := p.checkTimestamp(env); err != nil {
		return 0, err
	}
	if err := p.checkSignature(env); err != nil {
		return 0, err
	}
	if err := p.checkVersion(env); err != nil {
		return 0, err
	}
	issuerAddr, err := clawid.AddressFromDID(env.Issuer)
	if err != nil {
		return 0, reject(KindAuthFailure, "bad_issuer_did", err)
	}
	if !authorize(p.state, env, issuerAddr) {
		return 0, reject(KindAuthFailure, "not_authorized", nil)
	}

	class := p.nonces.classify(env.Issuer, env.Nonce)
	switch class {
	case -1: // duplicate or behind the committed nonce
		if hash, ok := p.nonces.hashAt(env.Issuer, env.Nonce); ok && hash != env.Hash {
			return class, rejectConflict("nonce_conflict", hash)
		}
		return class, reject(KindReplay, "replay", nil)
	case 2: // beyond the nonce window
		return class, reject(KindReplay, "replay", nil)
	case 1: // within window, not contiguous: resource-conflict/precondition deferred until drained
		return class, nil
	}

	if err := p.checkResourceConflict(env); err != nil {
		return class, err
	}
	if err := p.checkPrecondition(env); err != nil {
		return class, err
	}
	return class, nil
}

// checkPrecondition covers step 8's half that reducers cannot enforce
// themselves: an escrow's expiry deadline needs wall-clock time, which
// reducers stay free of (spec.md §4.4), and reputation.record's ref must
// name an event already durably appended, which the reducer has no
// access to (it only sees derived state, not the log).
func (p *Pipeline) checkPrecondition(env *codec.Envelope) error {
	switch env.Type {
	case "wallet.escrow.expire":
		ref, err := state.ExtractResourceRef(env.Payload)
		if err != nil || ref.ResourceID == "" {
			return reject(KindMalformed, "invalid_payload", err)
		}
		esc, ok := p.state.Escrows[ref.ResourceID]
		if !ok {
			return reject(KindPrecondition, "escrow_not_found", nil)
		}
		if !state.EscrowExpiryDue(esc, p.clock()) {
			return reject(KindPrecondition, "escrow_not_expired", nil)
		}
		return nil
	case "reputation.record":
		var payload struct {
			Ref string `json:"ref"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return reject(KindMalformed, "invalid_payload", err)
		}
		if payload.Ref == "" {
			return reject(KindMalformed, "invalid_payload", nil)
		}
		if _, ok := p.store.GetByHash(payload.Ref); !ok {
			return reject(KindPrecondition, "ref_not_found", nil)
		}
		return nil
	default:
		return nil
	}
}

func (p *Pipeline) checkSchema(env *codec.Envelope) error {
	if env.Type == "" || env.Issuer == "" || env.Pub == "" || env.Sig == "" {
		return reject(KindMalformed, "missing_required_field", nil)
	}
	if !state.Known(env.Type) {
		return reject(KindMalformed, "unknown_type", nil)
	}
	if !json.Valid(env.Payload) {
		return reject(KindMalformed, "invalid_payload_json", nil)
	}
	return nil
}

func (p *Pipeline) checkTimestamp(env *codec.Envelope) error {
	eventTime := time.UnixMilli(env.Ts)
	skew := p.clock().Sub(eventTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > p.cfg.MaxClockSkew {
		return reject(KindQuarantine, "clock_skew", nil)
	}
	return nil
}

func (p *Pipeline) checkSignature(env *codec.Envelope) error {
	if err := codec.Verify(env); err != nil {
		return reject(KindAuthFailure, "signature_invalid", err)
	}
	return nil
}

func (p *Pipeline) checkVersion(env *codec.Envelope) error {
	if env.V != ProtocolVersion {
		return reject(KindMalformed, "unknown_version", nil)
	}
	return nil
}

// checkResourceConflict enforces step 7: a resourcePrev, when present,
// must equal the store's current lastByResource for that id. The
// rejection carries the conflicting head hash so a caller can flag it
// with the finality tracker (spec.md §4.8's hasConflict).
func (p *Pipeline) checkResourceConflict(env *codec.Envelope) error {
	ref, err := state.ExtractResourceRef(env.Payload)
	if err != nil || ref.ResourceID == "" {
		return nil // payload carries no resource reference; nothing to check
	}
	head := p.store.LastByResource(ref.ResourceID)
	if head == "" {
		if ref.ResourcePrev != "" {
			return rejectConflict("resource_conflict", ref.ResourcePrev)
		}
		return nil
	}
	if ref.ResourcePrev != head {
		return rejectConflict("resource_conflict", head)
	}
	return nil
}
