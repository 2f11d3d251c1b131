package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"golang.org/x/crypto/pbkdf2"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Errorf("keys: bls init: %w", err))
	}
}

// blsFile is the on-disk shape of an encrypted BLS secret key, the same
// PBKDF2+XChaCha20-Poly1305 envelope as the Ed25519 peer key file.
type blsFile struct {
	Salt string `json:"salt"`
	Blob string `json:"blob"`
}

// GenerateBLS creates a fresh BLS12-381 keypair and persists the
// encrypted secret key at path, the snapshot-signing counterpart to
// Generate's Ed25519 event-signing key (spec.md §3.5).
func GenerateBLS(path, passphrase string) (*bls.PublicKey, *bls.SecretKey, error) {
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	if err := saveBLS(path, passphrase, sk.Serialize()); err != nil {
		return nil, nil, err
	}
	pub := sk.GetPublicKey()
	return pub, &sk, nil
}

// LoadBLS decrypts and returns the BLS secret key stored at path.
func LoadBLS(path, passphrase string) (*bls.PublicKey, *bls.SecretKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: read %s: %w", path, err)
	}
	var f blsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("keys: decode bls key file: %w", err)
	}
	salt, err := hex.DecodeString(f.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decode bls salt: %w", err)
	}
	blob, err := hex.DecodeString(f.Blob)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decode bls blob: %w", err)
	}
	key := deriveKey(passphrase, salt)
	raw2, err := decrypt(key, blob)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: decrypt bls key: wrong passphrase or corrupt key file: %w", err)
	}
	var sk bls.SecretKey
	if err := sk.Deserialize(raw2); err != nil {
		return nil, nil, fmt.Errorf("keys: deserialize bls key: %w", err)
	}
	return sk.GetPublicKey(), &sk, nil
}

// LoadOrGenerateBLS loads the BLS key at path, generating and persisting
// a new one if the file does not yet exist.
func LoadOrGenerateBLS(path, passphrase string) (*bls.PublicKey, *bls.SecretKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("keys: create bls key dir: %w", err)
		}
		return GenerateBLS(path, passphrase)
	}
	return LoadBLS(path, passphrase)
}

func saveBLS(path, passphrase string, secret []byte) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keys: bls salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	blob, err := encrypt(key, secret)
	if err != nil {
		return fmt.Errorf("keys: encrypt bls key: %w", err)
	}
	f := blsFile{Salt: hex.EncodeToString(salt), Blob: hex.EncodeToString(blob)}
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keys: create bls key dir: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
