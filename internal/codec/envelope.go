package codec

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/pkg/clawid"
)

// Envelope is the authenticated event envelope described in spec.md §3.1.
// Payload is kept as a raw JSON document; the validation pipeline decodes
// it into a concrete reducer-specific type once the schema check passes.
type Envelope struct {
	V       uint16          `json:"v"`
	Type    string          `json:"type"`
	Issuer  string          `json:"issuer"`
	Ts      int64           `json:"ts"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
	Prev    string          `json:"prev,omitempty"`
	Pub     string          `json:"pub"`
	Sig     string          `json:"sig,omitempty"`
	Hash    string          `json:"hash,omitempty"`
}

// signingView is the envelope with sig and hash stripped, the exact shape
// both EventHash and SignBytes canonicalize over.
type signingView struct {
	V       uint16          `json:"v"`
	Type    string          `json:"type"`
	Issuer  string          `json:"issuer"`
	Ts      int64           `json:"ts"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
	Prev    string          `json:"prev,omitempty"`
	Pub     string          `json:"pub"`
}

func (e *Envelope) signingView() signingView {
	return signingView{
		V: e.V, Type: e.Type, Issuer: e.Issuer, Ts: e.Ts, Nonce: e.Nonce,
		Payload: e.Payload, Prev: e.Prev, Pub: e.Pub,
	}
}

// CanonicalBytes returns canonicalize(envelope - {sig, hash}).
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	return Canonicalize(e.signingView())
}

// DIDFromPub decodes the multibase-encoded public key carried in Pub and
// derives the DID it implies, without consulting e.Issuer.
func (e *Envelope) DIDFromPub() (string, error) {
	pub, err := decodeMultibasePub(e.Pub)
	if err != nil {
		return "", err
	}
	return clawid.DIDFromPublicKey(pub)
}

// EncodeFull serializes the full envelope (including sig and hash) as
// canonical JSON, the wire form used by the event store and P2P transport.
func (e *Envelope) EncodeFull() ([]byte, error) {
	return Canonicalize(e)
}

// DecodeEnvelope parses wire bytes into an Envelope, rejecting oversize
// payloads before any further processing (spec.md §3.1 invariant).
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) > MaxEnvelopeBytes {
		return nil, ErrSizeExceeded
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}
	return &e, nil
}
