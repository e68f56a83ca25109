package kangaroo

import (
	"math/big"
	"testing"

	"github.com/rawblock/kangaroo-engine/internal/curve"
)

func TestDPMask(t *testing.T) {
	cases := []struct {
		bits int
		want uint64
	}{
		{0, 0},
		{1, 1},
		{5, 31},
		{64, ^uint64(0)},
		{100, ^uint64(0)},
		{-1, 0},
	}
	for _, c := range cases {
		if got := DPMask(c.bits); got != c.want {
			t.Errorf("DPMask(%d) = %#x, want %#x", c.bits, got, c.want)
		}
	}
}

func TestStepAdvancesPositionAndDistanceConsistently(t *testing.T) {
	jt := curve.BuildJumpTable()
	k := &Kangaroo{KIdx: 0, Pos: curve.ScalarBaseMult(curve.ScalarFromUint64(1)), Dist: curve.DistFromUint64(1)}

	hugeBound, _ := curve.NewDist(new(big.Int).Lsh(big.NewInt(1), 190))

	for i := 0; i < 64; i++ {
		prevDist := k.Dist
		Step(jt, DPMask(0), k, hugeBound) // dpMask 0 emits a DP on every hop; only pos/dist are checked here
		if k.Dist.Cmp(prevDist) <= 0 {
			t.Fatalf("step %d: distance did not increase (%s -> %s)", i, prevDist, k.Dist)
		}
		want := curve.ScalarBaseMult(curve.NewScalar(k.Dist.BigInt()))
		if !k.Pos.Equal(want) {
			t.Fatalf("step %d: pos != dist*G after stepping", i)
		}
	}
}

func TestStepEmitsDPWhenMaskMatches(t *testing.T) {
	jt := curve.BuildJumpTable()
	k := &Kangaroo{KIdx: 2, Pos: curve.ScalarBaseMult(curve.ScalarFromUint64(7)), Dist: curve.DistFromUint64(7)}
	hugeBound, _ := curve.NewDist(new(big.Int).Lsh(big.NewInt(1), 190))

	// mask=0 means newX[3]&mask == 0 always holds, so this step must emit
	// a DP regardless of where the walk actually lands.
	mask := DPMask(0)
	res := Step(jt, mask, k, hugeBound)
	if res.DP == nil {
		t.Fatalf("expected a DP on first step with mask=0")
	}
	if res.DP.KIdx != 2 {
		t.Fatalf("DP.KIdx = %d, want 2", res.DP.KIdx)
	}
	if res.DeadBranch {
		t.Fatalf("first step should not be a dead branch")
	}
}

func TestStepDetectsDeadBranchOnDistanceThreshold(t *testing.T) {
	jt := curve.BuildJumpTable()
	tinyBound := curve.DistFromUint64(1)
	k := &Kangaroo{KIdx: 0, Pos: curve.ScalarBaseMult(curve.ScalarFromUint64(1)), Dist: curve.DistFromUint64(0)}

	res := Step(jt, DPMask(0), k, tinyBound)
	if !res.DeadBranch {
		t.Fatalf("expected dead branch once distance threshold is exceeded")
	}
}

func TestStepFlagsDeadBranchOnRepeatedIdenticalDP(t *testing.T) {
	jt := curve.BuildJumpTable()
	hugeBound, _ := curve.NewDist(new(big.Int).Lsh(big.NewInt(1), 190))
	k := &Kangaroo{KIdx: 0, Pos: curve.ScalarBaseMult(curve.ScalarFromUint64(3)), Dist: curve.DistFromUint64(3)}

	// Precompute what the next hop will land on, then prime hasLastDP/
	// lastDPX/lastDPDist to already equal that outcome, simulating a
	// kangaroo that has cycled back onto a point it already reported.
	jump := jt.Select(k.Pos.XLimbs())
	nextPos := k.Pos.Add(jump.Point)
	nextDist := k.Dist.AddUint64(jump.Delta)
	k.hasLastDP = true
	k.lastDPX = nextPos.XLimbs()
	k.lastDPDist = nextDist

	res := Step(jt, DPMask(0), k, hugeBound)
	if !res.DeadBranch {
		t.Fatalf("expected dead branch when the hop repeats an already-reported DP")
	}
	if res.DP != nil {
		t.Fatalf("a repeated DP must not be re-emitted")
	}
}

func TestDefaultSafetyFactorIsPositive(t *testing.T) {
	if DefaultSafetyFactor <= 0 {
		t.Fatalf("DefaultSafetyFactor = %d, want > 0", DefaultSafetyFactor)
	}
}
