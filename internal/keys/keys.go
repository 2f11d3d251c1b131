// Package keys loads and persists the node's local peer Ed25519 key,
// the one piece of key custody the core still owns even though the spec
// puts a dedicated custody UI out of scope (spec.md §1): a node has to
// get its signing key from somewhere at boot. Grounded on the teacher's
// wallet key file (cmd/cli/wallet.go: PBKDF2-derived key, encrypted at
// rest) and its XChaCha20-Poly1305 helpers (core/security.go's
// Encrypt/Decrypt), adapted to a single Ed25519 seed instead of an HD
// wallet mnemonic.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations mirrors the teacher's wallet key derivation cost
// (cmd/cli/wallet.go).
const pbkdf2Iterations = 150_000

// file is the on-disk shape of an encrypted peer key, JSON like the
// teacher's wallet file but holding a raw Ed25519 seed instead of a
// mnemonic-derived HD seed.
type file struct {
	Salt string `json:"salt"`
	Blob string `json:"blob"` // hex: encrypt's nonce||ciphertext||tag
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
}

// Generate creates a fresh Ed25519 keypair and persists the encrypted
// seed at path, passphrase-protected.
func Generate(path, passphrase string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: generate: %w", err)
	}
	if err := save(path, passphrase, priv.Seed()); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Load decrypts and returns the peer key stored at path.
func Load(path, passphrase string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: read %s: %w", path, err)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("keys: decode key file: %w", err)
	}
	salt, err := hex.DecodeString(f.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decode salt: %w", err)
	}
	blob, err := hex.DecodeString(f.Blob)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decode blob: %w", err)
	}
	key := deriveKey(passphrase, salt)
	seed, err := decrypt(key, blob)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decrypt: wrong passphrase or corrupt key file: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("keys: derived key is not ed25519")
	}
	return pub, priv, nil
}

// LoadOrGenerate loads the key at path, generating and persisting a new
// one if the file does not yet exist. This is the path cmd/clawnetd
// start takes on first boot.
func LoadOrGenerate(path, passphrase string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("keys: create key dir: %w", err)
		}
		return Generate(path, passphrase)
	}
	return Load(path, passphrase)
}

func save(path, passphrase string, seed []byte) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keys: salt: %w", err)
	}
	key := deriveKey(passphrase, salt)
	blob, err := encrypt(key, seed)
	if err != nil {
		return fmt.Errorf("keys: encrypt: %w", err)
	}
	f := file{Salt: hex.EncodeToString(salt), Blob: hex.EncodeToString(blob)}
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keys: create key dir: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// encrypt returns nonce || ciphertext || tag under XChaCha20-Poly1305,
// mirroring the teacher's core/security.go Encrypt.
func encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("keys: ciphertext too short")
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
