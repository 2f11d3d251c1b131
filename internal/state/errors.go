package state

import "errors"

// Precondition failures surfaced to the submitter as the specific reason
// string named in spec.md §7 (e.g. "insufficient_balance").
var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrUnknownDID          = errors.New("unknown_did")
	ErrRevokedDID          = errors.New("revoked_did")
	ErrDocHashMismatch     = errors.New("doc_hash_mismatch")
	ErrEscrowNotFound      = errors.New("escrow_not_found")
	ErrEscrowBadTransition = errors.New("escrow_bad_transition")
	ErrEscrowNotExpired    = errors.New("escrow_not_expired")
	ErrNotAuthorized       = errors.New("not_authorized")
	ErrResourceNotFound    = errors.New("resource_not_found")
	ErrResourceBadState    = errors.New("resource_bad_state")
	ErrUnknownEventType    = errors.New("unknown_event_type")
	ErrInvalidPayload      = errors.New("invalid_payload")
)
