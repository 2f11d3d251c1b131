package codec

import (
	"crypto/ed25519"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// EventSigningDomain is the ASCII domain-separation prefix prepended to the
// canonical bytes before signing or verifying an event envelope.
const EventSigningDomain = "clawtoken:event:v1:"

// SignBytes returns the bytes that get fed to Ed25519 sign/verify for an
// event envelope: domain prefix concatenated with canonicalize(envelope -
// {sig, hash}) (spec.md §4.1, operation 3).
func SignBytes(e *Envelope) ([]byte, error) {
	body, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(EventSigningDomain)+len(body))
	out = append(out, EventSigningDomain...)
	out = append(out, body...)
	return out, nil
}

func encodeMultibasePub(pub ed25519.PublicKey) (string, error) {
	return multibase.Encode(multibase.Base58BTC, pub)
}

func decodeMultibasePub(s string) (ed25519.PublicKey, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pub: %v", ErrMalformedValue, err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: pub key wrong size %d", ErrMalformedValue, len(data))
	}
	return ed25519.PublicKey(data), nil
}

func encodeMultibaseSig(sig []byte) (string, error) {
	return multibase.Encode(multibase.Base58BTC, sig)
}

func decodeMultibaseSig(s string) ([]byte, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode sig: %v", ErrMalformedValue, err)
	}
	if len(data) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: sig wrong size %d", ErrMalformedValue, len(data))
	}
	return data, nil
}

// Sign finalizes an envelope in place: sets Pub from priv's public half,
// computes Sig over SignBytes, and sets Hash via EventHash. The caller must
// already have filled in v/type/issuer/ts/nonce/payload/prev.
func Sign(e *Envelope, priv ed25519.PrivateKey) error {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("%w: not an ed25519 key", ErrMalformedValue)
	}
	pubStr, err := encodeMultibasePub(pub)
	if err != nil {
		return err
	}
	e.Pub = pubStr
	e.Sig = ""
	e.Hash = ""

	msg, err := SignBytes(e)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, msg)
	sigStr, err := encodeMultibaseSig(sig)
	if err != nil {
		return err
	}
	e.Sig = sigStr

	h, err := EventHash(e)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// Verify re-derives the signing bytes for e and checks Sig against Pub,
// and additionally checks that the DID derived from Pub equals Issuer
// (spec.md §4.1, operation 4).
func Verify(e *Envelope) error {
	pub, err := decodeMultibasePub(e.Pub)
	if err != nil {
		return err
	}
	did, err := e.DIDFromPub()
	if err != nil {
		return err
	}
	if did != e.Issuer {
		return ErrKeyMismatch
	}
	sig, err := decodeMultibaseSig(e.Sig)
	if err != nil {
		return err
	}
	msg, err := SignBytes(e)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
