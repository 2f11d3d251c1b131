package codec

import "errors"

// Errors returned by the canonical codec. These map directly onto the
// codec failure modes in the specification: MalformedValue, SignatureInvalid,
// KeyMismatch, SizeExceeded.
var (
	ErrMalformedValue   = errors.New("codec: malformed value")
	ErrSignatureInvalid = errors.New("codec: signature invalid")
	ErrKeyMismatch      = errors.New("codec: public key does not match issuer DID")
	ErrSizeExceeded     = errors.New("codec: envelope exceeds maximum size")
)

// MaxEnvelopeBytes is the hard cap on canonical envelope size (1 MB, per
// spec.md §3.1 and §6).
const MaxEnvelopeBytes = 1 << 20
