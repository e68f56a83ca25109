package protocol

import (
	"encoding/binary"
	"fmt"
)

// DPWireSize is the exact on-wire size of one distinguished point: x(32),
// dist(24), kIdx(8), pad(4) = 68 bytes (spec §6).
const DPWireSize = 32 + 24 + 8 + 4

// DP is a distinguished point as it travels the wire. X is stored as four
// big-endian 64-bit limbs (limb[0] most significant), the layout the DP
// store's comparator agrees with (spec §6's invariant).
type DP struct {
	X     [4]uint64
	Dist  [24]byte
	KIdx  uint64
}

// Herd derives the herd from kIdx parity — the wire format never carries
// herd explicitly (spec §6 invariant).
func (dp DP) Herd() Herd {
	if dp.KIdx&1 == 0 {
		return Tame
	}
	return Wild
}

// Herd is TAME or WILD, always derived from a kIdx's parity.
type Herd uint8

const (
	Tame Herd = 0
	Wild Herd = 1
)

func (h Herd) String() string {
	if h == Tame {
		return "TAME"
	}
	return "WILD"
}

// IsTame reports whether h is the TAME herd.
func (h Herd) IsTame() bool { return h == Tame }

// HerdOf derives the herd for a given kangaroo index.
func HerdOf(kIdx uint64) Herd {
	if kIdx&1 == 0 {
		return Tame
	}
	return Wild
}

// EncodeDP writes one 68-byte DP entry.
func EncodeDP(dp DP) []byte {
	buf := make([]byte, DPWireSize)
	off := 0
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(buf[off:], dp.X[i])
		off += 8
	}
	off += copy(buf[off:], dp.Dist[:])
	binary.BigEndian.PutUint64(buf[off:], dp.KIdx)
	off += 8
	// pad(4) left zero.
	return buf
}

// DecodeDP parses one 68-byte DP entry.
func DecodeDP(b []byte) (DP, error) {
	if len(b) != DPWireSize {
		return DP{}, fmt.Errorf("%w: DP entry length %d, want %d", ErrProtocolViolation, len(b), DPWireSize)
	}
	var dp DP
	off := 0
	for i := 0; i < 4; i++ {
		dp.X[i] = binary.BigEndian.Uint64(b[off:])
		off += 8
	}
	copy(dp.Dist[:], b[off:off+24])
	off += 24
	dp.KIdx = binary.BigEndian.Uint64(b[off:])
	return dp, nil
}

// EncodeDPBatch encodes the DP_BATCH payload: COUNT(4) then COUNT*68 bytes.
func EncodeDPBatch(dps []DP) []byte {
	buf := make([]byte, 4+len(dps)*DPWireSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(dps)))
	off := 4
	for _, dp := range dps {
		copy(buf[off:], EncodeDP(dp))
		off += DPWireSize
	}
	return buf
}

// DecodeDPBatch parses a DP_BATCH payload, enforcing the exact-length
// invariant from spec §6: LENGTH must equal 4 + 68*COUNT.
func DecodeDPBatch(b []byte) ([]DP, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: DP_BATCH payload too short", ErrProtocolViolation)
	}
	count := binary.BigEndian.Uint32(b[0:4])
	want := 4 + int(count)*DPWireSize
	if len(b) != want {
		return nil, fmt.Errorf("%w: DP_BATCH length %d, want %d for count %d", ErrProtocolViolation, len(b), want, count)
	}
	dps := make([]DP, count)
	off := 4
	for i := range dps {
		dp, err := DecodeDP(b[off : off+DPWireSize])
		if err != nil {
			return nil, err
		}
		dps[i] = dp
		off += DPWireSize
	}
	return dps, nil
}

// EncodeDPAck encodes a DP_ACK payload: last_sequence(8).
func EncodeDPAck(lastSeq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, lastSeq)
	return buf
}

// DecodeDPAck decodes a DP_ACK payload.
func DecodeDPAck(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: DP_ACK length %d, want 8", ErrProtocolViolation, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodePing encodes a PING payload: timestamp(8), a Unix-nanosecond
// timestamp chosen by the caller (never time.Now() inside this package —
// keeps encode/decode pure).
func EncodePing(timestamp int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(timestamp))
	return buf
}

func DecodePing(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: PING length %d, want 8", ErrProtocolViolation, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// EncodeRangeReassign encodes start(32), end(32).
func EncodeRangeReassign(start, end [32]byte) []byte {
	buf := make([]byte, 64)
	copy(buf[0:32], start[:])
	copy(buf[32:64], end[:])
	return buf
}

func DecodeRangeReassign(b []byte) (start, end [32]byte, err error) {
	if len(b) != 64 {
		return start, end, fmt.Errorf("%w: RANGE_REASSIGN length %d, want 64", ErrProtocolViolation, len(b))
	}
	copy(start[:], b[0:32])
	copy(end[:], b[32:64])
	return start, end, nil
}

// EncodeResetKangaroo encodes kIdx(8).
func EncodeResetKangaroo(kIdx uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, kIdx)
	return buf
}

func DecodeResetKangaroo(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: RESET_KANGAROO length %d, want 8", ErrProtocolViolation, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeStop encodes found_key(32).
func EncodeStop(key [32]byte) []byte {
	buf := make([]byte, 32)
	copy(buf, key[:])
	return buf
}

func DecodeStop(b []byte) (key [32]byte, err error) {
	if len(b) != 32 {
		return key, fmt.Errorf("%w: STOP length %d, want 32", ErrProtocolViolation, len(b))
	}
	copy(key[:], b)
	return key, nil
}

// EncodeStats encodes pushed(8), popped(8), ops_count(8).
func EncodeStats(pushed, popped, opsCount uint64) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], pushed)
	binary.BigEndian.PutUint64(buf[8:16], popped)
	binary.BigEndian.PutUint64(buf[16:24], opsCount)
	return buf
}

type StatsPayload struct {
	Pushed   uint64
	Popped   uint64
	OpsCount uint64
}

func DecodeStats(b []byte) (StatsPayload, error) {
	if len(b) != 24 {
		return StatsPayload{}, fmt.Errorf("%w: STATS length %d, want 24", ErrProtocolViolation, len(b))
	}
	return StatsPayload{
		Pushed:   binary.BigEndian.Uint64(b[0:8]),
		Popped:   binary.BigEndian.Uint64(b[8:16]),
		OpsCount: binary.BigEndian.Uint64(b[16:24]),
	}, nil
}
