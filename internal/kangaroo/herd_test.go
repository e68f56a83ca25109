package kangaroo

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/rawblock/kangaroo-engine/internal/curve"
)

func testManager(t *testing.T) (*Manager, curve.Scalar) {
	t.Helper()
	k := curve.ScalarFromUint64(777)
	target := curve.ScalarBaseMult(k)
	wildOffset := curve.ScalarFromUint64(1 << 20)
	start := big.NewInt(0)
	end := new(big.Int).Lsh(big.NewInt(1), 40)
	deadBranch, _ := curve.NewDist(new(big.Int).Lsh(big.NewInt(1), 60))
	return NewManager(target, wildOffset, start, end, deadBranch), k
}

func TestNewCohortSplitsEvenlyByKIdxParity(t *testing.T) {
	m, _ := testManager(t)
	rng := rand.New(rand.NewSource(1))

	cohort := m.NewCohort(20, 0, rng)
	var tame, wild int
	for _, k := range cohort {
		if k.Herd().IsTame() {
			tame++
		} else {
			wild++
		}
		if k.KIdx&1 == 0 && !k.Herd().IsTame() {
			t.Fatalf("even kIdx %d classified as wild", k.KIdx)
		}
		if k.KIdx&1 == 1 && k.Herd().IsTame() {
			t.Fatalf("odd kIdx %d classified as tame", k.KIdx)
		}
	}
	if tame != 10 || wild != 10 {
		t.Fatalf("cohort split = tame:%d wild:%d, want 10/10", tame, wild)
	}
}

func TestTameInitialPositionMatchesDistTimesG(t *testing.T) {
	m, _ := testManager(t)
	rng := rand.New(rand.NewSource(2))
	cohort := m.NewCohort(4, 100, rng) // kIdx 100..103, all even except 101,103

	for _, k := range cohort {
		if !k.Herd().IsTame() {
			continue
		}
		want := curve.ScalarBaseMult(curve.NewScalar(k.Dist.BigInt()))
		if !k.Pos.Equal(want) {
			t.Fatalf("tame kangaroo kIdx=%d: pos != dist*G", k.KIdx)
		}
	}
}

func TestWildInitialPositionMatchesRecoveryInvariant(t *testing.T) {
	m, _ := testManager(t)
	rng := rand.New(rand.NewSource(3))
	cohort := m.NewCohort(4, 200, rng)

	for _, k := range cohort {
		if k.Herd().IsTame() {
			continue
		}
		// pos == P - wildOffset*G + dist*G
		want := m.Target().Add(curve.ScalarBaseMult(m.WildOffset()).Negate()).Add(curve.ScalarBaseMult(curve.NewScalar(k.Dist.BigInt())))
		if !k.Pos.Equal(want) {
			t.Fatalf("wild kangaroo kIdx=%d: pos does not satisfy pos = P - wildOffset*G + dist*G", k.KIdx)
		}
	}
}

func TestResetPreservesParityAndIssuesFreshKIdx(t *testing.T) {
	m, _ := testManager(t)
	rng := rand.New(rand.NewSource(4))
	cohort := m.NewCohort(2, 0, rng)

	tame := cohort[0]
	origKIdx := tame.KIdx
	origPos := tame.Pos

	m.Reset(tame, rng)

	if tame.KIdx == origKIdx {
		t.Fatalf("Reset did not change kIdx")
	}
	if tame.KIdx&1 != origKIdx&1 {
		t.Fatalf("Reset changed parity: %d -> %d", origKIdx, tame.KIdx)
	}
	if tame.Pos.Equal(origPos) && tame.Dist.Cmp(curve.ZeroDist()) == 0 {
		t.Fatalf("Reset produced an unchanged kangaroo")
	}
}

func TestResetNeverReusesAKIdx(t *testing.T) {
	m, _ := testManager(t)
	rng := rand.New(rand.NewSource(5))
	cohort := m.NewCohort(4, 0, rng)

	seen := map[uint64]bool{}
	for _, k := range cohort {
		seen[k.KIdx] = true
	}
	for i := 0; i < 50; i++ {
		m.Reset(cohort[0], rng)
		if seen[cohort[0].KIdx] {
			t.Fatalf("Reset reused kIdx %d", cohort[0].KIdx)
		}
		seen[cohort[0].KIdx] = true
	}
}
