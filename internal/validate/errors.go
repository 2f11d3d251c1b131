// Package validate implements the single gate every event — locally
// submitted or received from a peer — passes through before it reaches
// the event store and reducers. Checks run in a fixed order; the first
// failure aborts the remaining ones.
package validate

import "errors"

// Kind classifies the outcome of a failed check, not the Go error type.
// The pipeline's caller (ingress handler, gossip receiver) dispatches on
// Kind to decide whether to reject silently, quarantine, retry, or abort
// the process.
type Kind int

const (
	KindNone Kind = iota
	KindMalformed
	KindAuthFailure
	KindReplay
	KindConflict
	KindPrecondition
	KindTransient
	KindQuarantine
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindAuthFailure:
		return "auth_failure"
	case KindReplay:
		return "replay"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	case KindTransient:
		return "transient"
	case KindQuarantine:
		return "quarantine"
	case KindFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Rejection wraps the underlying reason with the Kind that decides how a
// caller should react, and the specific reason string surfaced back to a
// locally-submitted event's submitter (spec.md §7). ConflictHash is set
// only for KindConflict rejections: the hash of the event this one lost
// the tie-break against, so a caller can flag it with the finality
// tracker (spec.md §4.8's hasConflict).
type Rejection struct {
	Kind         Kind
	Reason       string
	Err          error
	ConflictHash string
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return r.Reason + ": " + r.Err.Error()
	}
	return r.Reason
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(kind Kind, reason string, err error) *Rejection {
	return &Rejection{Kind: kind, Reason: reason, Err: err}
}

// rejectConflict builds a KindConflict rejection carrying the hash of
// the event it lost the tie-break against (spec.md §4.3's "Conflict
// tie-break").
func rejectConflict(reason, conflictHash string) *Rejection {
	return &Rejection{Kind: KindConflict, Reason: reason, ConflictHash: conflictHash}
}

var (
	// ErrQuarantined signals the event should be held and retried later,
	// not rejected outright. The pipeline does not return it: clock skew
	// surfaces as a KindQuarantine Rejection and a nonce gap as ErrBuffered.
	ErrQuarantined = errors.New("validate: event quarantined")
	// ErrBuffered signals the event was accepted into the issuer's nonce
	// window but not yet applied; it is not a failure.
	ErrBuffered = errors.New("validate: event buffered awaiting gap fill")
	// ErrResourcePending signals the event is a resource-mutating update
	// waiting in the contention window for SettleResources to apply the
	// hash tie-break; it is not a failure.
	ErrResourcePending = errors.New("validate: event pending resource-conflict settlement")
)
