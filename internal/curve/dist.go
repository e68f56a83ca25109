package curve

import (
	"fmt"
	"math/big"
)

// DistBits is the maximum width of an accumulated walk distance (spec §3:
// "192-bit distance values are sufficient").
const DistBits = 192

// maxDist is 2^192, the exclusive upper bound every Dist must respect.
var maxDist = new(big.Int).Lsh(big.NewInt(1), DistBits)

// Dist is a kangaroo's accumulated walk distance: an unsigned integer
// strictly below 2^192. Unlike Scalar, it is never implicitly reduced
// modulo the group order n — the walk engine needs exact accumulation
// until the moment a distance is used in a scalar multiplication or in
// the k = dT - dW + wildOffset recovery formula.
//
// No third-party big-integer library appears anywhere in the example
// corpus, so Dist is built on the standard library's math/big — see
// DESIGN.md for the standard-library justification.
type Dist struct {
	v *big.Int
}

// ZeroDist is the distance of a kangaroo that has not yet taken a step.
func ZeroDist() Dist {
	return Dist{v: new(big.Int)}
}

// NewDist builds a Dist from a big.Int, which must be non-negative and
// below 2^192.
func NewDist(v *big.Int) (Dist, error) {
	if v.Sign() < 0 || v.Cmp(maxDist) >= 0 {
		return Dist{}, fmt.Errorf("curve: distance %s out of [0, 2^%d) range", v, DistBits)
	}
	return Dist{v: new(big.Int).Set(v)}, nil
}

// DistFromUint64 builds a Dist from a small unsigned integer.
func DistFromUint64(v uint64) Dist {
	return Dist{v: new(big.Int).SetUint64(v)}
}

// AddUint64 returns d + delta. Callers (the walk engine) are responsible
// for resetting a kangaroo before its distance would overflow 2^192 — see
// the dead-branch safety factor in spec §4.B.
func (d Dist) AddUint64(delta uint64) Dist {
	out := new(big.Int).Add(d.v, new(big.Int).SetUint64(delta))
	return Dist{v: out}
}

// Add returns d + other.
func (d Dist) Add(other Dist) Dist {
	return Dist{v: new(big.Int).Add(d.v, other.v)}
}

// Cmp compares two distances the way big.Int.Cmp does.
func (d Dist) Cmp(other Dist) int {
	return d.v.Cmp(other.v)
}

// BigInt returns a copy of the underlying value.
func (d Dist) BigInt() *big.Int {
	return new(big.Int).Set(d.v)
}

// Bytes24 returns the big-endian 24-byte (192-bit) wire encoding used by
// the DP_BATCH payload (spec §6).
func (d Dist) Bytes24() [24]byte {
	var out [24]byte
	d.v.FillBytes(out[:])
	return out
}

// DistFromBytes24 decodes a big-endian 24-byte distance.
func DistFromBytes24(b [24]byte) Dist {
	return Dist{v: new(big.Int).SetBytes(b[:])}
}

func (d Dist) String() string {
	return d.v.String()
}
