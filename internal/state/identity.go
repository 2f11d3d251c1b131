package state

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/pkg/clawid"
)

func init() {
	Register("identity.create", reduceIdentityCreate)
	Register("identity.update", reduceIdentityUpdate)
}

type identityCreatePayload struct {
	DocHash string `json:"docHash"`
}

type identityUpdatePayload struct {
	DocHash     string `json:"docHash"`
	PrevDocHash string `json:"prevDocHash"`
}

func reduceIdentityCreate(s *State, env *codec.Envelope) error {
	var p identityCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	addr, err := clawid.AddressFromDID(env.Issuer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	s.withLock(func() {
		s.DIDs[env.Issuer] = DIDRecord{
			DID:       env.Issuer,
			DocHash:   p.DocHash,
			ActivePub: env.Pub,
			Revoked:   false,
		}
		s.AddressByDID[env.Issuer] = addr
		if _, ok := s.Accounts[addr]; !ok {
			s.Accounts[addr] = 0
		}
	})
	return nil
}

func reduceIdentityUpdate(s *State, env *codec.Envelope) error {
	var p identityUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	s.mu.RLock()
	rec, ok := s.DIDs[env.Issuer]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownDID
	}
	if rec.Revoked {
		return ErrRevokedDID
	}
	if rec.DocHash != p.PrevDocHash {
		return ErrDocHashMismatch
	}
	s.withLock(func() {
		rec.DocHash = p.DocHash
		rec.ActivePub = env.Pub
		s.DIDs[env.Issuer] = rec
	})
	return nil
}
