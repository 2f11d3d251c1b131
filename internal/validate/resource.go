package validate

import (
	"sync"
	"time"

	"github.com/clawnet/node/internal/codec"
)

// resourceCandidate is one event waiting in its slot's contention window.
type resourceCandidate struct {
	env    *codec.Envelope
	seenAt time.Time
}

// resourceWindow buffers resource-mutating updates per (resourceId,
// resourcePrev) slot so SettleResources can apply spec.md §4.3's hash
// tie-break across every candidate that arrived for the same slot before
// any of them is durably committed. It is owned exclusively by the
// pipeline's single writer.
type resourceWindow struct {
	mu    sync.Mutex
	slots map[string][]resourceCandidate
}

func newResourceWindow() *resourceWindow {
	return &resourceWindow{slots: make(map[string][]resourceCandidate)}
}

func (w *resourceWindow) add(slot string, env *codec.Envelope, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slots[slot] = append(w.slots[slot], resourceCandidate{env: env, seenAt: now})
}

// ready returns every slot whose oldest candidate has waited at least
// window, removing those slots from the pending set.
func (w *resourceWindow) ready(now time.Time, window time.Duration) map[string][]resourceCandidate {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string][]resourceCandidate)
	for slot, cands := range w.slots {
		if len(cands) == 0 {
			continue
		}
		oldest := cands[0].seenAt
		for _, c := range cands[1:] {
			if c.seenAt.Before(oldest) {
				oldest = c.seenAt
			}
		}
		if now.Sub(oldest) >= window {
			out[slot] = cands
			delete(w.slots, slot)
		}
	}
	return out
}

// pending reports whether slot currently has at least one candidate
// awaiting settlement, used only by tests.
func (w *resourceWindow) pending(slot string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots[slot]) > 0
}
