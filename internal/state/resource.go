package state

import "encoding/json"

// ResourceRef is embedded by every payload that mutates a resource with a
// stable id (escrow, order, listing, contract, dispute): spec.md §3.1's
// invariant that such payloads carry resourcePrev, or null on creation.
type ResourceRef struct {
	ResourceID   string `json:"resourceId"`
	ResourcePrev string `json:"resourcePrev,omitempty"`
}

// ExtractResourceRef pulls the generic {resourceId, resourcePrev} fields out
// of a raw payload without fully decoding its type-specific shape. The
// validation pipeline's resource-conflict check (spec.md §4.3, check 7)
// uses this before dispatching to a reducer.
func ExtractResourceRef(payload json.RawMessage) (ResourceRef, error) {
	var r ResourceRef
	if err := json.Unmarshal(payload, &r); err != nil {
		return ResourceRef{}, err
	}
	return r, nil
}

func (s *State) recordResource(resourceID, eventHash string) {
	s.ResourceIndex[resourceID] = eventHash
}
