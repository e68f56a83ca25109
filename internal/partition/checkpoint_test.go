package partition

import (
	"path/filepath"
	"testing"

	"github.com/rawblock/kangaroo-engine/internal/dpstore"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

func testStoreConfig() dpstore.Config {
	return dpstore.Config{BucketBits: 4, ShardBits: 2}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := dpstore.New(testStoreConfig())
	want := []protocol.DP{
		{X: [4]uint64{0x1111_0000_0000_0000, 0, 0, 0}, Dist: distBytes(10), KIdx: 2},
		{X: [4]uint64{0x2222_0000_0000_0000, 0, 0, 0}, Dist: distBytes(20), KIdx: 4},
		{X: [4]uint64{0x3333_0000_0000_0000, 0, 0, 0}, Dist: distBytes(30), KIdx: 5},
	}
	for _, dp := range want {
		if res, _ := store.Add(dp); res != dpstore.AddOK {
			t.Fatalf("seeding store: Add(%+v) = %v, want ADD_OK", dp, res)
		}
	}

	header := CheckpointHeader{N: 40, DPBits: 8}
	header.Px[31] = 0xAB
	header.Py[31] = 0xCD
	header.WildOffset[31] = 0xEF

	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	if err := WriteCheckpoint(path, header, store); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	gotHeader, restored, err := ReadCheckpoint(path, testStoreConfig())
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header round-trip mismatch: got %+v, want %+v", gotHeader, header)
	}

	var gotCount int
	restored.ForEach(func(_ uint32, _ dpstore.Entry) { gotCount++ })
	if gotCount != len(want) {
		t.Fatalf("restored entry count = %d, want %d", gotCount, len(want))
	}

	for _, dp := range want {
		res, _ := restored.Add(dp)
		if res != dpstore.SameHerdDuplicate {
			t.Fatalf("restored store missing entry %+v: re-Add gave %v, want SAME_HERD_DUPLICATE", dp, res)
		}
	}
}

func TestWriteCheckpointIsAtomic(t *testing.T) {
	store := dpstore.New(testStoreConfig())
	store.Add(protocol.DP{X: [4]uint64{1, 0, 0, 0}, Dist: distBytes(1), KIdx: 0})

	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.bin")
	if err := WriteCheckpoint(path, CheckpointHeader{N: 10}, store); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	entries, err := filepathGlobTmp(dir)
	if err != nil {
		t.Fatalf("scanning checkpoint dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp checkpoint files left behind: %v", entries)
	}
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".checkpoint-*.tmp"))
}

func distBytes(v uint64) [24]byte {
	var out [24]byte
	out[23] = byte(v)
	out[22] = byte(v >> 8)
	return out
}
