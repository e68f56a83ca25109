// Package curve wraps the secp256k1 group and field arithmetic the engine
// needs: point addition, scalar multiplication, and the 256-bit scalar /
// 192-bit distance types used throughout the kangaroo walk.
package curve

import (
	"encoding/binary"
	"errors"
	"math/big"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Order is the secp256k1 group order n.
var Order, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

// Scalar is an integer modulo the secp256k1 group order n, used for the
// wild offset and the recovered private key.
type Scalar struct {
	s secp256k1.ModNScalar
}

// NewScalar builds a Scalar from a big.Int, reducing modulo n.
func NewScalar(v *big.Int) Scalar {
	var b [32]byte
	v.FillBytes(b[:])
	var sc secp256k1.ModNScalar
	sc.SetByteSlice(b[:])
	return Scalar{s: sc}
}

// ScalarFromUint64 builds a Scalar from a small unsigned integer.
func ScalarFromUint64(v uint64) Scalar {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], v)
	var sc secp256k1.ModNScalar
	sc.SetByteSlice(b[:])
	return Scalar{s: sc}
}

// ScalarFromDist reduces a Dist (a walk's accumulated distance, up to 192
// bits) modulo n. Distances never approach n in practice (see spec §3 on
// the 192-bit bound), so this reduction is exact for any distance the
// walk engine produces.
func ScalarFromDist(d Dist) Scalar {
	return NewScalar(d.BigInt())
}

// Add returns a + b mod n.
func (a Scalar) Add(b Scalar) Scalar {
	var out secp256k1.ModNScalar
	out.Set(&a.s)
	out.Add(&b.s)
	return Scalar{s: out}
}

// Sub returns a - b mod n.
func (a Scalar) Sub(b Scalar) Scalar {
	var neg secp256k1.ModNScalar
	neg.Set(&b.s)
	neg.Negate()
	var out secp256k1.ModNScalar
	out.Set(&a.s)
	out.Add(&neg)
	return Scalar{s: out}
}

// Bytes returns the big-endian 32-byte encoding of the scalar.
func (a Scalar) Bytes() [32]byte {
	return a.s.Bytes()
}

// BigInt returns the scalar as a big.Int in [0, n).
func (a Scalar) BigInt() *big.Int {
	b := a.s.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// ScalarFromBytes32 decodes a big-endian 32-byte scalar, reducing mod n.
func ScalarFromBytes32(b [32]byte) Scalar {
	var sc secp256k1.ModNScalar
	sc.SetByteSlice(b[:])
	return Scalar{s: sc}
}

// modNScalar exposes the underlying decred type for use by Point's
// scalar-multiplication methods, kept unexported so callers only ever see
// Scalar/Dist/Point, never the library's raw types.
func (a Scalar) modNScalar() *secp256k1.ModNScalar {
	return &a.s
}

// ErrScalarOverflow names the condition of a parsed scalar not fitting
// the expected width. No function in the engine returns it.
var ErrScalarOverflow = errors.New("curve: scalar overflow")
