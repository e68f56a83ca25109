// Package kangaroo implements the deterministic pseudo-random walk on
// secp256k1 (spec §4.B), the tame/wild herd setup (spec §4.C), and the
// distinguished-point predicate that feeds the central store.
package kangaroo

import (
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// Kangaroo is one walker. Invariant: pos = dist·G for TAME,
// pos = P − wildOffset·G + dist·G for WILD (see Manager) — the engine never stores that
// derived relationship, only the position and the distance actually
// walked, matching spec §4.C's note that wildOffset bookkeeping lives
// solely in the Herd Manager.
type Kangaroo struct {
	KIdx uint64
	Pos  curve.Point
	Dist curve.Dist

	// lastDP* detect a lane re-emitting the same DP twice, the
	// same-kangaroo dead-branch condition of spec §4.B.
	hasLastDP  bool
	lastDPX    [4]uint64
	lastDPDist curve.Dist
}

// Herd derives TAME/WILD from kIdx parity (spec §3: "herd is derived as
// kIdx & 1").
func (k *Kangaroo) Herd() protocol.Herd {
	return protocol.HerdOf(k.KIdx)
}
