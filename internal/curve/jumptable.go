package curve

// JumpCount is the number of precomputed jumps in the table (spec §4.A):
// 32 jumps keep the average stride near 2^16, giving the expected
// √(π·W/2) running time for an interval of width W.
const JumpCount = 32

// Jump is one entry of the precomputed jump table: a point to add to the
// current walk position, and the scalar distance that hop contributes.
type Jump struct {
	Point Point
	Delta uint64
}

// JumpTable is the fixed table J[0..31] of (point, delta) pairs shared by
// every kangaroo in a run. It never changes after BuildJumpTable returns,
// so it is safe to share across every lane without synchronization.
type JumpTable struct {
	jumps [JumpCount]Jump
}

// BuildJumpTable derives J[i] = (2^i · G, 2^i) for i = 0..31.
func BuildJumpTable() *JumpTable {
	var jt JumpTable
	for i := 0; i < JumpCount; i++ {
		delta := uint64(1) << uint(i)
		jt.jumps[i] = Jump{
			Point: ScalarBaseMult(ScalarFromUint64(delta)),
			Delta: delta,
		}
	}
	return &jt
}

// Select returns the jump an x-coordinate's low 5 bits choose (spec §4.B
// step 1: "j = x(k.pos) mod 32").
func (jt *JumpTable) Select(xLimbs [4]uint64) Jump {
	j := xLimbs[3] & uint64(JumpCount-1)
	return jt.jumps[j]
}

// At returns the j-th jump directly, used by tests and by the resolver
// when replaying a specific hop.
func (jt *JumpTable) At(j int) Jump {
	return jt.jumps[j%JumpCount]
}
