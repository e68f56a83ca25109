package protocol

import (
	"bytes"
	"testing"
)

func TestDPEncodeDecodeRoundTrip(t *testing.T) {
	dp := DP{
		X:    [4]uint64{0x1111111111111111, 0x2222222222222222, 0x3333333333333333, 0x4444444444444444},
		Dist: [24]byte{1, 2, 3, 4, 5},
		KIdx: 0xDEADBEEF,
	}
	encoded := EncodeDP(dp)
	if len(encoded) != DPWireSize {
		t.Fatalf("encoded DP length = %d, want %d", len(encoded), DPWireSize)
	}
	decoded, err := DecodeDP(encoded)
	if err != nil {
		t.Fatalf("DecodeDP: %v", err)
	}
	if decoded != dp {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, dp)
	}
}

func TestHerdDerivedFromKIdxParity(t *testing.T) {
	cases := []struct {
		kIdx uint64
		want Herd
	}{
		{0, Tame}, {1, Wild}, {2, Tame}, {3, Wild}, {1000000, Tame}, {1000001, Wild},
	}
	for _, c := range cases {
		if got := HerdOf(c.kIdx); got != c.want {
			t.Errorf("HerdOf(%d) = %v, want %v", c.kIdx, got, c.want)
		}
		dp := DP{KIdx: c.kIdx}
		if got := dp.Herd(); got != c.want {
			t.Errorf("DP{KIdx: %d}.Herd() = %v, want %v", c.kIdx, got, c.want)
		}
	}
}

func TestDPBatchEncodeDecodeRoundTripAndExactLength(t *testing.T) {
	dps := []DP{
		{X: [4]uint64{1, 2, 3, 4}, KIdx: 10},
		{X: [4]uint64{5, 6, 7, 8}, KIdx: 11},
		{X: [4]uint64{9, 10, 11, 12}, KIdx: 12},
	}
	encoded := EncodeDPBatch(dps)
	wantLen := 4 + len(dps)*DPWireSize
	if len(encoded) != wantLen {
		t.Fatalf("DP_BATCH length = %d, want %d", len(encoded), wantLen)
	}

	decoded, err := DecodeDPBatch(encoded)
	if err != nil {
		t.Fatalf("DecodeDPBatch: %v", err)
	}
	if len(decoded) != len(dps) {
		t.Fatalf("decoded %d DPs, want %d", len(decoded), len(dps))
	}
	for i := range dps {
		if decoded[i] != dps[i] {
			t.Errorf("DP %d mismatch: got %+v, want %+v", i, decoded[i], dps[i])
		}
	}
}

func TestDPBatchRejectsInconsistentLength(t *testing.T) {
	dps := []DP{{X: [4]uint64{1, 2, 3, 4}, KIdx: 1}}
	encoded := EncodeDPBatch(dps)
	truncated := encoded[:len(encoded)-1]
	if _, err := DecodeDPBatch(truncated); err == nil {
		t.Fatalf("expected error decoding truncated DP_BATCH")
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	hdr := EncodeFrameHeader(MsgDPBatch, 123)
	mt, length, err := DecodeFrameHeader(hdr)
	if err != nil {
		t.Fatalf("DecodeFrameHeader: %v", err)
	}
	if mt != MsgDPBatch || length != 123 {
		t.Fatalf("got (%v, %d), want (%v, 123)", mt, length, MsgDPBatch)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var req HandshakeRequest
	req.ClientID = [ClientIDLen]byte{1, 2, 3, 4}
	req.IntervalBits = 96
	decoded, err := DecodeHandshakeRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshakeRequest: %v", err)
	}
	if decoded != req {
		t.Fatalf("handshake request round trip mismatch")
	}

	resp := HandshakeResponse{Accepted: true, DPBits: 20}
	resp.Px[0] = 0xAB
	resp.RangeEnd[31] = 0xCD
	decodedResp, err := DecodeHandshakeResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse: %v", err)
	}
	if decodedResp != resp {
		t.Fatalf("handshake response round trip mismatch")
	}
}

func TestHandshakeRejectsBadMagic(t *testing.T) {
	var req HandshakeRequest
	encoded := req.Encode()
	encoded[0] ^= 0xFF
	if _, err := DecodeHandshakeRequest(encoded); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestEncodeDPIsDeterministic(t *testing.T) {
	dp := DP{X: [4]uint64{1, 2, 3, 4}, KIdx: 99}
	a := EncodeDP(dp)
	b := EncodeDP(dp)
	if !bytes.Equal(a, b) {
		t.Fatalf("EncodeDP is not deterministic")
	}
}
