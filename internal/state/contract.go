package state

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
)

const (
	ContractDraft      = "draft"
	ContractSigned     = "signed"
	ContractActive     = "active"
	ContractCompleted  = "completed"
	ContractDisputed   = "disputed"
	ContractTerminated = "terminated"

	MilestonePending  = "pending"
	MilestoneAccepted = "accepted"
	MilestoneRejected = "rejected"
)

func init() {
	Register("contract.create", reduceContractCreate)
	Register("contract.sign", reduceContractSign)
	Register("contract.activate", reduceContractActivate)
	Register("contract.milestone.submit", reduceContractMilestoneSubmit)
	Register("contract.milestone.accept", reduceContractMilestoneAccept)
	Register("contract.complete", reduceContractComplete)
	Register("contract.dispute", reduceContractDispute)
	Register("contract.terminate", reduceContractTerminate)
}

type contractCreatePayload struct {
	ResourceRef
	Parties []string `json:"parties"`
	Terms   string   `json:"terms"`
}

// reduceContractCreate opens a contract in draft. Milestones are added
// later via contract.milestone.submit, mirroring how escrow.create and
// escrow.fund are split in the escrow lifecycle.
func reduceContractCreate(s *State, env *codec.Envelope) error {
	var p contractCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(p.Parties) < 2 {
		return fmt.Errorf("%w: contract requires at least two parties", ErrInvalidPayload)
	}
	s.withLock(func() {
		s.Contracts[p.ResourceID] = Contract{
			ID:      p.ResourceID,
			Parties: append([]string(nil), p.Parties...),
			Terms:   p.Terms,
			Status:  ContractDraft,
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return nil
}

type contractRefPayload struct {
	ResourceRef
}

func transitionContract(s *State, env *codec.Envelope, from, to string) error {
	var p contractRefPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		c, ok := s.Contracts[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if c.Status != from {
			err = ErrResourceBadState
			return
		}
		c.Status = to
		s.Contracts[p.ResourceID] = c
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

func reduceContractSign(s *State, env *codec.Envelope) error {
	return transitionContract(s, env, ContractDraft, ContractSigned)
}

func reduceContractActivate(s *State, env *codec.Envelope) error {
	return transitionContract(s, env, ContractSigned, ContractActive)
}

func reduceContractComplete(s *State, env *codec.Envelope) error {
	return transitionContract(s, env, ContractActive, ContractCompleted)
}

func reduceContractDispute(s *State, env *codec.Envelope) error {
	return transitionContract(s, env, ContractActive, ContractDisputed)
}

type contractTerminatePayload struct {
	ResourceRef
}

// reduceContractTerminate allows terminating either an active or a
// disputed contract; a resolver forcing resolution out of a dispute uses
// this same event type, with authorization enforced by the validation
// pipeline.
func reduceContractTerminate(s *State, env *codec.Envelope) error {
	var p contractTerminatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		c, ok := s.Contracts[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if c.Status != ContractActive && c.Status != ContractDisputed {
			err = ErrResourceBadState
			return
		}
		c.Status = ContractTerminated
		s.Contracts[p.ResourceID] = c
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type milestoneSubmitPayload struct {
	ResourceRef
	ContractID  string `json:"contractId"`
	MilestoneID string `json:"milestoneId"`
}

func reduceContractMilestoneSubmit(s *State, env *codec.Envelope) error {
	var p milestoneSubmitPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		c, ok := s.Contracts[p.ContractID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if c.Status != ContractActive {
			err = ErrResourceBadState
			return
		}
		c.Milestones = append(c.Milestones, ContractMilestone{ID: p.MilestoneID, Status: MilestonePending})
		s.Contracts[p.ContractID] = c
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type milestoneAcceptPayload struct {
	ResourceRef
	ContractID  string `json:"contractId"`
	MilestoneID string `json:"milestoneId"`
}

func reduceContractMilestoneAccept(s *State, env *codec.Envelope) error {
	var p milestoneAcceptPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		c, ok := s.Contracts[p.ContractID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		found := false
		for i, m := range c.Milestones {
			if m.ID == p.MilestoneID {
				if m.Status != MilestonePending {
					err = ErrResourceBadState
					return
				}
				c.Milestones[i].Status = MilestoneAccepted
				found = true
				break
			}
		}
		if !found {
			err = ErrResourceNotFound
			return
		}
		s.Contracts[p.ContractID] = c
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}
