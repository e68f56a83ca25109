package curve

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Point is an affine secp256k1 point. The zero value is not a valid point;
// use Generator, ParsePublicKey, or one of the arithmetic methods to build
// one.
type Point struct {
	x, y secp256k1.FieldVal
}

// Generator returns the secp256k1 base point G.
func Generator() Point {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&one, &j)
	j.ToAffine()
	return Point{x: j.X, y: j.Y}
}

// ParsePublicKey decodes a compressed or uncompressed SEC1 public key, the
// representation the target point P is read from in the CLI target file
// (spec §6).
func ParsePublicKey(b []byte) (Point, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return Point{}, fmt.Errorf("curve: parse public key: %w", err)
	}
	var j secp256k1.JacobianPoint
	pub.AsJacobian(&j)
	j.ToAffine()
	return Point{x: j.X, y: j.Y}, nil
}

// PointFromXY builds a Point from big-endian 32-byte affine coordinates,
// the layout used by the connect handshake's P_x/P_y fields.
func PointFromXY(x, y [32]byte) (Point, error) {
	var fx, fy secp256k1.FieldVal
	if overflow := fx.SetByteSlice(x[:]); overflow {
		return Point{}, fmt.Errorf("curve: x coordinate overflow")
	}
	if overflow := fy.SetByteSlice(y[:]); overflow {
		return Point{}, fmt.Errorf("curve: y coordinate overflow")
	}
	return Point{x: fx, y: fy}, nil
}

// ScalarBaseMult returns s*G.
func ScalarBaseMult(s Scalar) Point {
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s.modNScalar(), &j)
	j.ToAffine()
	return Point{x: j.X, y: j.Y}
}

// ScalarMult returns s*p.
func ScalarMult(p Point, s Scalar) Point {
	var aff, result secp256k1.JacobianPoint
	aff.X = p.x
	aff.Y = p.y
	aff.Z.SetInt(1)
	secp256k1.ScalarMultNonConst(s.modNScalar(), &aff, &result)
	result.ToAffine()
	return Point{x: result.X, y: result.Y}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	var jp, jq, result secp256k1.JacobianPoint
	jp.X, jp.Y = p.x, p.y
	jp.Z.SetInt(1)
	jq.X, jq.Y = q.x, q.y
	jq.Z.SetInt(1)
	secp256k1.AddNonConst(&jp, &jq, &result)
	result.ToAffine()
	return Point{x: result.X, y: result.Y}
}

// Negate returns -p (same x, negated y).
func (p Point) Negate() Point {
	y := p.y
	y.Negate(1).Normalize()
	return Point{x: p.x, y: y}
}

// X returns the big-endian 32-byte x-coordinate.
func (p Point) X() [32]byte {
	return p.x.Bytes()
}

// Y returns the big-endian 32-byte y-coordinate.
func (p Point) Y() [32]byte {
	return p.y.Bytes()
}

// YIsOdd reports whether the y-coordinate is odd, used by the optional
// walk-symmetry reflection (spec §4.B).
func (p Point) YIsOdd() bool {
	return p.y.IsOdd()
}

// Equal reports whether two points have the same affine coordinates.
func (p Point) Equal(q Point) bool {
	return p.x.Equals(&q.x) && p.y.Equals(&q.y)
}

// CompressedBytes returns the 33-byte SEC1 compressed encoding of p, the
// same format btcec.ParsePubKey accepts back.
func (p Point) CompressedBytes() []byte {
	prefix := byte(0x02)
	if p.YIsOdd() {
		prefix = 0x03
	}
	x := p.X()
	out := make([]byte, 33)
	out[0] = prefix
	copy(out[1:], x[:])
	return out
}

// XLimbs returns the x-coordinate as four big-endian 64-bit limbs,
// limb[0] most significant — the exact layout the wire protocol and the
// DP store's bucket/suffix comparator use (spec §6, §4.D).
func (p Point) XLimbs() [4]uint64 {
	b := p.x.Bytes()
	var limbs [4]uint64
	for i := 0; i < 4; i++ {
		limbs[i] = beToUint64(b[i*8 : i*8+8])
	}
	return limbs
}

func beToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
