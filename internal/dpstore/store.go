// Package dpstore implements the central, sharded distinguished-point
// table (spec §4.D): a concurrent map from an x-coordinate fingerprint to
// (distance, herd, kIdx) entries, responsible for detecting the
// cross-herd collision that reveals the private key.
package dpstore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// AddResult is the closed set of outcomes Add can produce (spec "Design
// Notes": modeled as a tagged variant, not an integer code, to prevent
// miscategorisation).
type AddResult int

const (
	AddOK AddResult = iota
	SameHerdDuplicate
	CrossHerdCollision
)

func (r AddResult) String() string {
	switch r {
	case AddOK:
		return "ADD_OK"
	case SameHerdDuplicate:
		return "SAME_HERD_DUPLICATE"
	case CrossHerdCollision:
		return "CROSS_HERD_COLLISION"
	default:
		return "UNKNOWN"
	}
}

// Entry is one stored distinguished point.
type Entry struct {
	X    [4]uint64
	Dist [24]byte
	Herd protocol.Herd
	KIdx uint64
}

// CollisionEvent is emitted when a cross-herd match is found. Tame and
// Wild are populated regardless of which of (stored, new) was tame.
type CollisionEvent struct {
	Tame Entry
	Wild Entry
}

// Config tunes the store's shape.
type Config struct {
	// BucketBits (H in spec §4.D) selects the bucket count: 2^H buckets.
	// The spec recommends 18-22.
	BucketBits int
	// ShardBits selects the shard count: 2^ShardBits shards, each with
	// its own lock (spec recommends 256 = 2^8).
	ShardBits int
}

// DefaultConfig matches the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{BucketBits: 20, ShardBits: 8}
}

type shard struct {
	mu      sync.Mutex
	buckets [][]Entry
}

// Store is the sharded DP hash table. The zero value is not usable; call
// New.
type Store struct {
	cfg             Config
	shards          []*shard
	bucketsPerShard uint32

	events chan CollisionEvent

	addOK          atomic.Uint64
	trueDuplicates atomic.Uint64
	sameHerdCollis atomic.Uint64
	crossHerdColls atomic.Uint64
	tameCount      atomic.Uint64
	wildCount      atomic.Uint64
}

// New builds an empty store with 2^cfg.BucketBits buckets split across
// 2^cfg.ShardBits shards.
func New(cfg Config) *Store {
	bucketCount := uint32(1) << uint(cfg.BucketBits)
	shardCount := uint32(1) << uint(cfg.ShardBits)
	bucketsPerShard := bucketCount / shardCount

	s := &Store{
		cfg:             cfg,
		shards:          make([]*shard, shardCount),
		bucketsPerShard: bucketsPerShard,
		// Buffered generously: the single consumer (the Collision
		// Resolver) only needs to keep up on average, not burst-for-burst.
		events: make(chan CollisionEvent, 4096),
	}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make([][]Entry, bucketsPerShard)}
	}
	return s
}

// Events returns the single-consumer channel of cross-herd collisions.
func (s *Store) Events() <-chan CollisionEvent {
	return s.events
}

// bucketIndex returns the top BucketBits bits of x's most significant
// limb — the fingerprint that selects a bucket (spec §4.D).
func (s *Store) bucketIndex(x [4]uint64) uint32 {
	shift := 64 - uint(s.cfg.BucketBits)
	return uint32(x[0] >> shift)
}

func (s *Store) shardFor(bucketIdx uint32) (*shard, uint32) {
	shardIdx := bucketIdx / s.bucketsPerShard
	localIdx := bucketIdx % s.bucketsPerShard
	return s.shards[shardIdx], localIdx
}

// compareX implements the comparator invariant of spec §4.D: lexicographic
// on x, most-significant limb first.
func compareX(a, b [4]uint64) int {
	for i := 0; i < 4; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// Add inserts or matches a DP against the store. It is safe to call from
// any number of goroutines concurrently; contention is bounded to the one
// shard the DP's bucket belongs to (spec §4.D concurrency contract).
func (s *Store) Add(dp protocol.DP) (AddResult, *CollisionEvent) {
	herd := dp.Herd()
	bucketIdx := s.bucketIndex(dp.X)
	sh, localIdx := s.shardFor(bucketIdx)

	var (
		result AddResult
		event  *CollisionEvent
	)

	sh.mu.Lock()
	bucket := sh.buckets[localIdx]
	idx := sort.Search(len(bucket), func(i int) bool {
		return compareX(bucket[i].X, dp.X) >= 0
	})

	switch {
	case idx < len(bucket) && compareX(bucket[idx].X, dp.X) == 0:
		existing := bucket[idx]
		if existing.Herd == herd {
			if existing.Dist == dp.Dist {
				result = SameHerdDuplicate // true duplicate, resend after reconnect
				s.trueDuplicates.Add(1)
			} else {
				result = SameHerdDuplicate // same-herd collision, distinct chains merged
				if distLess(dp.Dist, existing.Dist) {
					bucket[idx] = Entry{X: dp.X, Dist: dp.Dist, Herd: herd, KIdx: dp.KIdx}
				}
				s.sameHerdCollis.Add(1)
			}
		} else {
			result = CrossHerdCollision
			newEntry := Entry{X: dp.X, Dist: dp.Dist, Herd: herd, KIdx: dp.KIdx}
			event = &CollisionEvent{}
			if herd == protocol.Tame {
				event.Tame, event.Wild = newEntry, existing
			} else {
				event.Tame, event.Wild = existing, newEntry
			}
			s.crossHerdColls.Add(1)
		}
	default:
		entry := Entry{X: dp.X, Dist: dp.Dist, Herd: herd, KIdx: dp.KIdx}
		bucket = append(bucket, Entry{})
		copy(bucket[idx+1:], bucket[idx:])
		bucket[idx] = entry
		sh.buckets[localIdx] = bucket
		result = AddOK
		s.addOK.Add(1)
		if herd == protocol.Tame {
			s.tameCount.Add(1)
		} else {
			s.wildCount.Add(1)
		}
	}
	sh.mu.Unlock()

	if event != nil {
		// Sent outside the shard lock: the resolver may itself call
		// back into the store (e.g. via Snapshot for checkpointing),
		// and holding the lock across the channel send would risk
		// contending with unrelated shards' throughput for no reason.
		s.events <- *event
	}
	return result, event
}

func distLess(a, b [24]byte) bool {
	for i := 0; i < 24; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Stats is a point-in-time snapshot of the store's counters (spec §4.G:
// "periodic statistics").
type Stats struct {
	AddOK              uint64
	TrueDuplicates     uint64
	SameHerdCollisions uint64
	CrossHerdCollisions uint64
	TameEntries        uint64
	WildEntries        uint64
}

func (s *Store) Snapshot() Stats {
	return Stats{
		AddOK:               s.addOK.Load(),
		TrueDuplicates:       s.trueDuplicates.Load(),
		SameHerdCollisions:   s.sameHerdCollis.Load(),
		CrossHerdCollisions:  s.crossHerdColls.Load(),
		TameEntries:          s.tameCount.Load(),
		WildEntries:          s.wildCount.Load(),
	}
}

// BucketOccupancyHistogram returns, for each shard, the number of
// non-empty buckets in that shard — a coarse occupancy signal
// cheap enough to compute every 10s (spec §4.G).
func (s *Store) BucketOccupancyHistogram() []int {
	hist := make([]int, len(s.shards))
	for i, sh := range s.shards {
		sh.mu.Lock()
		occupied := 0
		for _, b := range sh.buckets {
			if len(b) > 0 {
				occupied++
			}
		}
		sh.mu.Unlock()
		hist[i] = occupied
	}
	return hist
}

// ForEach iterates every stored entry, bucket by bucket, taking each
// shard's lock in turn. Used by the checkpoint writer (internal/partition)
// — never called from a hot path.
func (s *Store) ForEach(fn func(bucketIdx uint32, e Entry)) {
	for shardIdx, sh := range s.shards {
		sh.mu.Lock()
		base := uint32(shardIdx) * s.bucketsPerShard
		for local, bucket := range sh.buckets {
			for _, e := range bucket {
				fn(base+uint32(local), e)
			}
		}
		sh.mu.Unlock()
	}
}

// BucketCount returns the total number of buckets (2^BucketBits).
func (s *Store) BucketCount() uint32 {
	return uint32(len(s.shards)) * s.bucketsPerShard
}
