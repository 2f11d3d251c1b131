// Package p2p implements the authenticated gossip transport described in
// spec.md §4.6: a P2P envelope codec distinct from (but structurally
// mirroring) the event envelope in internal/codec, gossip pub/sub over
// three topics, range-request backfill, chunked snapshot sync, and
// sybil-policy-aware peer eligibility.
package p2p

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
	"github.com/multiformats/go-multibase"
)

// Protocol topic names (spec.md §6). A breaking wire change bumps the
// version segment, not these constants.
const (
	TopicEvents    = "/clawtoken/1.0.0/events"
	TopicRequests  = "/clawtoken/1.0.0/requests"
	TopicResponses = "/clawtoken/1.0.0/responses"
)

// ContentType is the fixed content-type every P2P envelope carries.
const ContentType = "application/clawtoken-stream"

// PeerSigningDomain domain-separates P2P envelope signatures from event
// signatures (codec.EventSigningDomain) and snapshot signatures
// (snapshot.SnapshotSigningDomain), per spec.md §4.6.
const PeerSigningDomain = "clawtoken:p2p:v1:"

// PeerIDPrefix marks a multibase-encoded peer public key as a ClawNet
// transport peer id, distinct from the did:claw: issuer identity space
// even when, as in tests, the same key material is reused for both.
const PeerIDPrefix = "peer:claw:"

// Envelope is the signed transport wrapper spec.md §4.6 defines:
// {v, topic, sender, ts, contentType, payload, sig}. sig covers
// PeerSigningDomain ‖ canonicalize(envelope - sig).
type Envelope struct {
	V           uint16          `json:"v"`
	Topic       string          `json:"topic"`
	Sender      string          `json:"sender"`
	Ts          int64           `json:"ts"`
	ContentType string          `json:"contentType"`
	Payload     json.RawMessage `json:"payload"`
	Sig         string          `json:"sig,omitempty"`
}

type signingView struct {
	V           uint16          `json:"v"`
	Topic       string          `json:"topic"`
	Sender      string          `json:"sender"`
	Ts          int64           `json:"ts"`
	ContentType string          `json:"contentType"`
	Payload     json.RawMessage `json:"payload"`
}

func (e *Envelope) signingView() signingView {
	return signingView{V: e.V, Topic: e.Topic, Sender: e.Sender, Ts: e.Ts, ContentType: e.ContentType, Payload: e.Payload}
}

// CanonicalBytes returns canonicalize(envelope - sig). P2P envelopes stay
// under codec.MaxEnvelopeBytes, so the size-capped Canonicalize applies
// (unlike snapshot bodies, which are explicitly exempt).
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	return codec.Canonicalize(e.signingView())
}

func signBytes(e *Envelope) ([]byte, error) {
	body, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(PeerSigningDomain)+len(body))
	out = append(out, PeerSigningDomain...)
	out = append(out, body...)
	return out, nil
}

// PeerIDFromPublicKey derives the transport peer id for a peer key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	enc, err := multibase.Encode(multibase.Base58BTC, pub)
	if err != nil {
		return "", fmt.Errorf("p2p: multibase encode peer id: %w", err)
	}
	return PeerIDPrefix + enc, nil
}

func decodeMultibaseSig(s string) ([]byte, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode p2p sig: %v", ErrMalformed, err)
	}
	if len(data) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: p2p sig wrong size %d", ErrMalformed, len(data))
	}
	return data, nil
}

func encodeMultibaseSig(sig []byte) (string, error) {
	return multibase.Encode(multibase.Base58BTC, sig)
}

// Seal builds and signs a new envelope around body, wrapping it on topic
// as peerID priv. ts is caller-supplied so it flows from an injectable
// clock rather than time.Now, keeping the transport layer testable the
// same way the validation pipeline is.
func Seal(topic string, priv ed25519.PrivateKey, ts int64, payload []byte) (*Envelope, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrMalformed)
	}
	sender, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		V:           1,
		Topic:       topic,
		Sender:      sender,
		Ts:          ts,
		ContentType: ContentType,
		Payload:     payload,
	}
	msg, err := signBytes(env)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, msg)
	sigStr, err := encodeMultibaseSig(sig)
	if err != nil {
		return nil, err
	}
	env.Sig = sigStr
	return env, nil
}

// Verify checks env's signature against the sender's known public key.
// The caller is responsible for resolving Sender to pub (typically via an
// allowlist, a prior PeerRotate announcement, or the libp2p peerstore);
// p2p never trusts a self-declared key the way DIDs do in the event path.
func Verify(env *Envelope, pub ed25519.PublicKey) error {
	wantSender, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return err
	}
	if wantSender != env.Sender {
		return ErrSenderMismatch
	}
	sig, err := decodeMultibaseSig(env.Sig)
	if err != nil {
		return err
	}
	msg, err := signBytes(env)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// Frame length-prefixes data with a 4-byte big-endian count. The gossip
// publish path sends messages unframed; Frame and Unframe are standalone
// helpers.
func Frame(data []byte) []byte {
	out := make([]byte, 4+len(data))
	out[0] = byte(len(data) >> 24)
	out[1] = byte(len(data) >> 16)
	out[2] = byte(len(data) >> 8)
	out[3] = byte(len(data))
	copy(out[4:], data)
	return out
}

// Unframe reverses Frame, validating the declared length against the
// actual buffer before returning the payload.
func Unframe(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: frame too short", ErrMalformed)
	}
	n := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf)-4 != n {
		return nil, fmt.Errorf("%w: frame length %d does not match declared %d", ErrMalformed, len(buf)-4, n)
	}
	return buf[4:], nil
}
