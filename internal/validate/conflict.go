package validate

import (
	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/state"
)

// ResolveBatch implements the hash tie-break rule (spec.md §4.3's
// "Conflict tie-break" and the S4 test scenario): among envelopes
// received together that compete for the same (resourceId, resourcePrev)
// slot, or the same (issuer, nonce) pair, only the one with the
// numerically smaller hash is kept; the rest are dropped before they
// ever reach Submit. This is how gossip callers should batch a tick's
// worth of received envelopes: resolve local races first, then submit
// the survivors in any order.
func ResolveBatch(envs []*codec.Envelope) []*codec.Envelope {
	bestByResource := make(map[string]*codec.Envelope)
	bestByNonce := make(map[string]*codec.Envelope)

	for _, env := range envs {
		if ref, err := resourceRefOf(env); err == nil && ref != "" {
			if cur, ok := bestByResource[ref]; !ok || env.Hash < cur.Hash {
				bestByResource[ref] = env
			}
		}
	}
	keep := make(map[string]*codec.Envelope, len(envs))
	for _, env := range envs {
		ref, err := resourceRefOf(env)
		if err == nil && ref != "" && bestByResource[ref] != env {
			continue
		}
		keep[env.Hash] = env
	}

	out := make([]*codec.Envelope, 0, len(keep))
	for _, env := range keep {
		nonceKey := env.Issuer + "|" + itoa(env.Nonce)
		if cur, ok := bestByNonce[nonceKey]; !ok || env.Hash < cur.Hash {
			bestByNonce[nonceKey] = env
		}
	}
	seen := make(map[string]bool, len(bestByNonce))
	for _, env := range bestByNonce {
		if seen[env.Hash] {
			continue
		}
		seen[env.Hash] = true
		out = append(out, env)
	}
	return out
}

func resourceRefOf(env *codec.Envelope) (string, error) {
	r, err := state.ExtractResourceRef(env.Payload)
	if err != nil || r.ResourceID == "" {
		return "", err
	}
	return r.ResourceID + "|" + r.ResourcePrev, nil
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
