package kangaroo

import (
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// DPMask returns a mask with the low dpBits bits set, applied to the
// least-significant 64 bits of x (spec §4.B step 4 / GLOSSARY "DP bits").
func DPMask(dpBits int) uint64 {
	if dpBits <= 0 {
		return 0
	}
	if dpBits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(dpBits)) - 1
}

// StepResult is what one hop of the walk engine produces.
type StepResult struct {
	DP         *protocol.DP
	DeadBranch bool // the lane must reset this kangaroo (spec §4.B)
}

// Step advances one kangaroo by one hop (spec §4.B):
//  1. select j = x(pos) mod 32
//  2. pos += J[j].point
//  3. dist += J[j].delta
//  4. if (x(pos) & dpMask) == 0, emit a DP
//
// deadBranchDist is the distance threshold (2·sqrt(W)·safetyFactor from
// spec §4.B) at or past which a kangaroo is flagged as a dead branch. The
// check uses the distance alone: whether the kangaroo's DPs advanced the
// store is not tracked, so a kangaroo that keeps emitting DPs is flagged too.
func Step(jt *curve.JumpTable, dpMask uint64, k *Kangaroo, deadBranchDist curve.Dist) StepResult {
	xLimbs := k.Pos.XLimbs()
	j := jt.Select(xLimbs)

	k.Pos = k.Pos.Add(j.Point)
	k.Dist = k.Dist.AddUint64(j.Delta)

	newX := k.Pos.XLimbs()

	var result StepResult
	if newX[3]&dpMask == 0 {
		dist24 := k.Dist.Bytes24()
		if k.hasLastDP && k.lastDPX == newX && k.lastDPDist.Cmp(k.Dist) == 0 {
			result.DeadBranch = true
		} else {
			result.DP = &protocol.DP{X: newX, Dist: dist24, KIdx: k.KIdx}
			k.hasLastDP = true
			k.lastDPX = newX
			k.lastDPDist = k.Dist
		}
	}

	if k.Dist.Cmp(deadBranchDist) >= 0 {
		result.DeadBranch = true
	}
	return result
}

// DefaultSafetyFactor is the multiplier spec §4.B uses for the dead-branch
// distance bound: 2·sqrt(W)·safetyFactor.
const DefaultSafetyFactor = 64
