package p2p

import "errors"

var (
	ErrMalformed        = errors.New("p2p: malformed message")
	ErrSignatureInvalid = errors.New("p2p: envelope signature invalid")
	ErrSenderMismatch   = errors.New("p2p: sender does not match signing key")
	ErrNotEligible      = errors.New("p2p: peer is not eligible under the active sybil policy")
	ErrUnknownPeerKey   = errors.New("p2p: no known public key for peer")
	ErrBadTaggedUnion   = errors.New("p2p: message body must set exactly one variant")
)
