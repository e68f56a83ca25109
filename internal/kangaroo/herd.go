package kangaroo

import (
	"math/big"
	"math/rand"
	"sync/atomic"

	"github.com/rawblock/kangaroo-engine/internal/curve"
)

// Manager is the Herd Manager (spec §4.C): it allocates kangaroos split
// 50/50 TAME/WILD, assigns their initial positions and distances, and
// creates replacement kangaroos on dead-branch detection.
//
// Resolved Open Question (see DESIGN.md): spec §3's invariant for WILD
// ("pos = P + (dist+wildOffset)·G") and spec §4.C/§4.E's initial position
// and recovery formula ("pos = P − wildOffset·G", "k = dT − dW +
// wildOffset") are only mutually consistent if the wild invariant is read
// as pos = P − wildOffset·G + dist·G. This manager and the Collision
// Resolver both implement that reading.
type Manager struct {
	target     curve.Point
	wildOffset curve.Scalar
	wildStart  curve.Point // P - wildOffset*G, precomputed once

	rangeStart *big.Int
	rangeWidth *big.Int

	deadBranchDist curve.Dist

	nextKIdx atomic.Uint64 // incremented by 2 to preserve a lane's parity
}

// NewManager builds a herd manager for a worker assigned [rangeStart,
// rangeEnd).
func NewManager(target curve.Point, wildOffset curve.Scalar, rangeStart, rangeEnd *big.Int, deadBranchDist curve.Dist) *Manager {
	wildStart := target.Add(curve.ScalarBaseMult(wildOffset).Negate())
	width := new(big.Int).Sub(rangeEnd, rangeStart)
	return &Manager{
		target:         target,
		wildOffset:     wildOffset,
		wildStart:      wildStart,
		rangeStart:     new(big.Int).Set(rangeStart),
		rangeWidth:     width,
		deadBranchDist: deadBranchDist,
	}
}

// NewCohort builds n kangaroos (n/2 TAME, n/2 WILD) for one lane. kIdx
// values are issued by baseKIdx+0, baseKIdx+1, ... so that callers running
// many lanes can partition the kIdx space up front and never collide.
// rng seeds each kangaroo's starting jitter within the assigned range —
// the walk from that point on is fully deterministic.
func (m *Manager) NewCohort(n int, baseKIdx uint64, rng *rand.Rand) []*Kangaroo {
	cohort := make([]*Kangaroo, n)
	for i := 0; i < n; i++ {
		kIdx := baseKIdx + uint64(i)
		if kIdx&1 == 0 {
			cohort[i] = m.newTame(kIdx, rng)
		} else {
			cohort[i] = m.newWild(kIdx, rng)
		}
	}
	// Reset adds the old kIdx's parity bit to nextKIdx, so nextKIdx must
	// stay even for the fresh kIdx to keep that parity.
	next := (baseKIdx + uint64(n) + 1) &^ 1
	if m.nextKIdx.Load() < next {
		m.nextKIdx.Store(next)
	}
	return cohort
}

func (m *Manager) jitter(rng *rand.Rand) *big.Int {
	if m.rangeWidth.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Rand(rng, m.rangeWidth)
}

func (m *Manager) newTame(kIdx uint64, rng *rand.Rand) *Kangaroo {
	start := new(big.Int).Add(m.rangeStart, m.jitter(rng))
	dist, _ := curve.NewDist(start)
	return &Kangaroo{
		KIdx: kIdx,
		Pos:  curve.ScalarBaseMult(curve.NewScalar(start)),
		Dist: dist,
	}
}

func (m *Manager) newWild(kIdx uint64, rng *rand.Rand) *Kangaroo {
	jitter := m.jitter(rng)
	dist, _ := curve.NewDist(jitter)
	return &Kangaroo{
		KIdx: kIdx,
		Pos:  m.wildStart.Add(curve.ScalarBaseMult(curve.NewScalar(jitter))),
		Dist: dist,
	}
}

// Reset replaces a dead-branch or wrong-collision kangaroo with a fresh
// one of the same parity (spec §4.B / §4.E: "reset that kangaroo with a
// fresh kIdx preserving parity").
func (m *Manager) Reset(k *Kangaroo, rng *rand.Rand) {
	newKIdx := m.nextKIdx.Add(2) - 2 + (k.KIdx & 1)
	var fresh *Kangaroo
	if k.KIdx&1 == 0 {
		fresh = m.newTame(newKIdx, rng)
	} else {
		fresh = m.newWild(newKIdx, rng)
	}
	*k = *fresh
}

// WildOffset returns the configured wild offset scalar.
func (m *Manager) WildOffset() curve.Scalar { return m.wildOffset }

// Target returns the target point P.
func (m *Manager) Target() curve.Point { return m.target }
