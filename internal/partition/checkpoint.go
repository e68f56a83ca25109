package partition

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rawblock/kangaroo-engine/internal/dpstore"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// CheckpointHeader is the fixed-size prefix of a checkpoint file (spec §6):
// MAGIC, VERSION, N, DP_BITS, P_x, P_y, WILD_OFFSET.
type CheckpointHeader struct {
	N          uint8
	DPBits     uint8
	Px         [32]byte
	Py         [32]byte
	WildOffset [32]byte
}

const checkpointHeaderLen = 4 + 2 + 1 + 1 + 32*3

func (h CheckpointHeader) encode() []byte {
	buf := make([]byte, checkpointHeaderLen)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], protocol.Magic)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], protocol.Version)
	off += 2
	buf[off] = h.N
	off++
	buf[off] = h.DPBits
	off++
	off += copy(buf[off:], h.Px[:])
	off += copy(buf[off:], h.Py[:])
	off += copy(buf[off:], h.WildOffset[:])
	return buf
}

func decodeCheckpointHeader(b []byte) (CheckpointHeader, error) {
	if len(b) != checkpointHeaderLen {
		return CheckpointHeader{}, fmt.Errorf("%w: checkpoint header length %d, want %d", protocol.ErrProtocolViolation, len(b), checkpointHeaderLen)
	}
	off := 0
	magic := binary.BigEndian.Uint32(b[off:])
	off += 4
	version := binary.BigEndian.Uint16(b[off:])
	off += 2
	if magic != protocol.Magic {
		return CheckpointHeader{}, fmt.Errorf("%w: bad checkpoint magic 0x%08x", protocol.ErrProtocolViolation, magic)
	}
	if version != protocol.Version {
		return CheckpointHeader{}, fmt.Errorf("%w: unsupported checkpoint version %d", protocol.ErrProtocolViolation, version)
	}
	var h CheckpointHeader
	h.N = b[off]
	off++
	h.DPBits = b[off]
	off++
	off += copy(h.Px[:], b[off:off+32])
	off += copy(h.Py[:], b[off:off+32])
	off += copy(h.WildOffset[:], b[off:off+32])
	return h, nil
}

// WriteCheckpoint serializes the store's bucket contents to path, atomically
// (write to a temp file in the same directory, then rename), per spec §6.
func WriteCheckpoint(path string, header CheckpointHeader, store *dpstore.Store) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("partition: create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(header.encode()); err != nil {
		return fmt.Errorf("partition: write checkpoint header: %w", err)
	}

	buckets := make(map[uint32][]dpstore.Entry)
	store.ForEach(func(bucketIdx uint32, e dpstore.Entry) {
		buckets[bucketIdx] = append(buckets[bucketIdx], e)
	})

	var bucketCountBuf [4]byte
	binary.BigEndian.PutUint32(bucketCountBuf[:], uint32(len(buckets)))
	if _, err := w.Write(bucketCountBuf[:]); err != nil {
		return fmt.Errorf("partition: write bucket count: %w", err)
	}

	for bucketIdx, entries := range buckets {
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], bucketIdx)
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(entries)))
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("partition: write bucket header: %w", err)
		}
		for _, e := range entries {
			dp := protocol.DP{X: e.X, Dist: e.Dist, KIdx: e.KIdx}
			if _, err := w.Write(protocol.EncodeDP(dp)); err != nil {
				return fmt.Errorf("partition: write entry: %w", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("partition: flush checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("partition: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("partition: close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("partition: rename checkpoint into place: %w", err)
	}
	success = true
	return nil
}

// ReadCheckpoint parses a checkpoint file and replays its entries into a
// freshly-built store via cfg, returning the header and the restored store.
func ReadCheckpoint(path string, cfg dpstore.Config) (CheckpointHeader, *dpstore.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return CheckpointHeader{}, nil, fmt.Errorf("partition: open checkpoint: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdrBuf := make([]byte, checkpointHeaderLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return CheckpointHeader{}, nil, fmt.Errorf("partition: read checkpoint header: %w", err)
	}
	header, err := decodeCheckpointHeader(hdrBuf)
	if err != nil {
		return CheckpointHeader{}, nil, err
	}

	var bucketCountBuf [4]byte
	if _, err := io.ReadFull(r, bucketCountBuf[:]); err != nil {
		return CheckpointHeader{}, nil, fmt.Errorf("partition: read bucket count: %w", err)
	}
	bucketCount := binary.BigEndian.Uint32(bucketCountBuf[:])

	store := dpstore.New(cfg)
	entryBuf := make([]byte, protocol.DPWireSize)
	for i := uint32(0); i < bucketCount; i++ {
		var bucketHdr [8]byte
		if _, err := io.ReadFull(r, bucketHdr[:]); err != nil {
			return CheckpointHeader{}, nil, fmt.Errorf("partition: read bucket header: %w", err)
		}
		entryCount := binary.BigEndian.Uint32(bucketHdr[4:8])
		for j := uint32(0); j < entryCount; j++ {
			if _, err := io.ReadFull(r, entryBuf); err != nil {
				return CheckpointHeader{}, nil, fmt.Errorf("partition: read entry: %w", err)
			}
			dp, err := protocol.DecodeDP(entryBuf)
			if err != nil {
				return CheckpointHeader{}, nil, err
			}
			store.Add(dp)
		}
	}
	return header, store, nil
}
