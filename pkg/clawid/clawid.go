// Package clawid derives ClawNet DIDs and wallet addresses from Ed25519
// public key material. A DID is a multibase-encoded public key under the
// `did:claw:` prefix; an address is a base58check encoding of a public-key
// hash, used as the balance key in the account ledger.
package clawid

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
)

// DIDPrefix is the literal prefix every ClawNet DID carries.
const DIDPrefix = "did:claw:"

// AddressVersion is the single-byte version prefix used by base58check
// address encoding. A second network could use a different version byte;
// ClawNet mainnet/testnet/devnet currently share one address space.
const AddressVersion byte = 0x1C

// ErrInvalidDID is returned when a DID string cannot be decoded back to a
// public key, or its embedded encoding is not multibase base58btc.
var ErrInvalidDID = errors.New("clawid: invalid DID")

// DIDFromPublicKey derives the DID string for an Ed25519 public key.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("clawid: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	enc, err := multibase.Encode(multibase.Base58BTC, pub)
	if err != nil {
		return "", fmt.Errorf("clawid: multibase encode: %w", err)
	}
	return DIDPrefix + enc, nil
}

// PublicKeyFromDID recovers the Ed25519 public key embedded in a DID.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, DIDPrefix) {
		return nil, ErrInvalidDID
	}
	enc, data, err := multibase.Decode(strings.TrimPrefix(did, DIDPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if enc != multibase.Base58BTC {
		return nil, ErrInvalidDID
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, ErrInvalidDID
	}
	return ed25519.PublicKey(data), nil
}

// Address is a base58check-encoded account identifier derived from a
// public key. It is the key space used by the accounts ledger.
type Address string

// AddressFromPublicKey derives the balance-key address for a public key:
// version byte || sha256(pub)[:20], followed by a 4-byte sha256 checksum,
// all base58-encoded.
func AddressFromPublicKey(pub ed25519.PublicKey) (Address, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("clawid: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	h := sha256.Sum256(pub)
	payload := make([]byte, 0, 1+20)
	payload = append(payload, AddressVersion)
	payload = append(payload, h[:20]...)

	checksum := sha256.Sum256(payload)
	full := append(payload, checksum[:4]...)
	return Address(base58.Encode(full)), nil
}

// AddressFromDID is a convenience wrapper deriving an address straight from
// a DID string.
func AddressFromDID(did string) (Address, error) {
	pub, err := PublicKeyFromDID(did)
	if err != nil {
		return "", err
	}
	return AddressFromPublicKey(pub)
}

// Validate checks the base58check payload and checksum of an address.
func (a Address) Validate() error {
	raw, err := base58.Decode(string(a))
	if err != nil {
		return fmt.Errorf("clawid: invalid address encoding: %w", err)
	}
	if len(raw) != 1+20+4 {
		return fmt.Errorf("clawid: invalid address length %d", len(raw))
	}
	payload, checksum := raw[:21], raw[21:]
	want := sha256.Sum256(payload)
	for i := range checksum {
		if checksum[i] != want[i] {
			return errors.New("clawid: address checksum mismatch")
		}
	}
	return nil
}

func (a Address) String() string { return string(a) }
