package client

import (
	"math/rand"
	"sync"

	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
)

// registry is the single place every kangaroo reset goes through, both a
// lane's own dead-branch resets and a server-directed RESET_KANGAROO.
// Reset (spec §4.B/§4.E) assigns the slot a fresh kIdx preserving parity,
// so the kIdx->kangaroo lookup table has to be updated the instant that
// happens — otherwise a later RESET_KANGAROO naming the stale kIdx finds
// nothing and is silently dropped.
type registry struct {
	mu     sync.Mutex
	byKIdx map[uint64]*kangaroo.Kangaroo
	mgr    *kangaroo.Manager
}

func newRegistry(mgr *kangaroo.Manager) *registry {
	return &registry{byKIdx: make(map[uint64]*kangaroo.Kangaroo), mgr: mgr}
}

// add registers a freshly built kangaroo under its current kIdx.
func (r *registry) add(k *kangaroo.Kangaroo) {
	r.mu.Lock()
	r.byKIdx[k.KIdx] = k
	r.mu.Unlock()
}

// lookup finds the kangaroo currently holding kIdx, if any.
func (r *registry) lookup(kIdx uint64) (*kangaroo.Kangaroo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byKIdx[kIdx]
	return k, ok
}

// reset replaces k with a fresh same-parity kangaroo and re-keys the
// registry entry: afterwards the new kIdx resolves to this slot and the
// old kIdx resolves to nothing.
func (r *registry) reset(k *kangaroo.Kangaroo, rng *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := k.KIdx
	r.mgr.Reset(k, rng)
	if k.KIdx != old {
		delete(r.byKIdx, old)
		r.byKIdx[k.KIdx] = k
	}
}
