// Package partition implements the Work Partitioner (spec §4.F): it carves
// [0, 2^n) into sub-ranges, hands one to each connecting worker, and
// reissues a disconnected worker's range — to the same worker if it
// reconnects inside the grace period, to whichever worker asks next
// otherwise.
package partition

import (
	"fmt"
	"math/big"
	"math/bits"
	"sync"
	"time"
)

// DefaultOvershootFactor shrinks each range below the naive 2^(n-log2(W))
// split by this many powers of two, so the interval is carved into more
// ranges than there are workers (spec §4.F).
const DefaultOvershootFactor = 2

// DefaultGracePeriod is T_grace from spec §4.G: a worker silent for this
// long loses its range to reassignment.
const DefaultGracePeriod = 120 * time.Second

// WorkRange is one contiguous sub-interval of the search space.
type WorkRange struct {
	Start             *big.Int
	End               *big.Int
	AssignedTo        string
	CompletedFraction float64
}

// Width returns End - Start.
func (r *WorkRange) Width() *big.Int {
	return new(big.Int).Sub(r.End, r.Start)
}

// Partitioner owns the cursor over the unassigned tail of [0, 2^n) plus the
// set of ranges reclaimed from disconnected workers.
type Partitioner struct {
	mu sync.Mutex

	width  *big.Int
	cursor *big.Int
	bound  *big.Int

	gracePeriod time.Duration

	byWorker       map[string]*WorkRange
	disconnectedAt map[string]time.Time
	available      []*WorkRange
}

// New builds a Partitioner over [0, 2^n), sized for an expected number of
// concurrent workers. numWorkersHint must be at least 1.
func New(n, numWorkersHint, overshootFactor int, gracePeriod time.Duration) *Partitioner {
	if numWorkersHint < 1 {
		numWorkersHint = 1
	}
	bound := new(big.Int).Lsh(big.NewInt(1), uint(n))
	shift := n - bits.Len(uint(numWorkersHint-1)) - overshootFactor
	if shift < 0 {
		shift = 0
	}
	width := new(big.Int).Lsh(big.NewInt(1), uint(shift))
	if width.Sign() == 0 {
		width = big.NewInt(1)
	}
	return &Partitioner{
		width:          width,
		cursor:         new(big.Int),
		bound:          bound,
		gracePeriod:    gracePeriod,
		byWorker:       make(map[string]*WorkRange),
		disconnectedAt: make(map[string]time.Time),
	}
}

// ErrExhausted is returned by Assign when the whole interval has already
// been carved out and nothing is available for reclaim.
var ErrExhausted = fmt.Errorf("partition: search space exhausted")

// Assign hands workerID a range: its own unfinished range if it has one,
// otherwise a reclaimed range, otherwise a fresh slice carved off the
// cursor.
func (p *Partitioner) Assign(workerID string) (*WorkRange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.byWorker[workerID]; ok && r.CompletedFraction < 1.0 {
		delete(p.disconnectedAt, workerID)
		return r, nil
	}
	delete(p.byWorker, workerID)

	var r *WorkRange
	if len(p.available) > 0 {
		r = p.available[0]
		p.available = p.available[1:]
	} else {
		if p.cursor.Cmp(p.bound) >= 0 {
			return nil, ErrExhausted
		}
		end := new(big.Int).Add(p.cursor, p.width)
		if end.Cmp(p.bound) > 0 {
			end = new(big.Int).Set(p.bound)
		}
		r = &WorkRange{Start: new(big.Int).Set(p.cursor), End: end}
		p.cursor = end
	}
	r.AssignedTo = workerID
	r.CompletedFraction = 0
	p.byWorker[workerID] = r
	delete(p.disconnectedAt, workerID)
	return r, nil
}

// RecordProgress updates the completed fraction of workerID's current range.
func (p *Partitioner) RecordProgress(workerID string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.byWorker[workerID]; ok {
		r.CompletedFraction = fraction
	}
}

// Disconnect starts the grace-period clock for workerID (spec §4.G).
func (p *Partitioner) Disconnect(workerID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byWorker[workerID]; ok {
		p.disconnectedAt[workerID] = at
	}
}

// ReclaimExpired releases the ranges of any worker that has been
// disconnected for at least the grace period, making them available to the
// next Assign call from any worker. Returns the number reclaimed.
func (p *Partitioner) ReclaimExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	reclaimed := 0
	for workerID, disconnectedAt := range p.disconnectedAt {
		if now.Sub(disconnectedAt) < p.gracePeriod {
			continue
		}
		if r, ok := p.byWorker[workerID]; ok && r.CompletedFraction < 1.0 {
			r.AssignedTo = ""
			p.available = append(p.available, r)
		}
		delete(p.byWorker, workerID)
		delete(p.disconnectedAt, workerID)
		reclaimed++
	}
	return reclaimed
}

// Snapshot returns the ranges currently assigned to a worker or waiting
// for reassignment, for checkpoint persistence. A range dropped after its
// owner completed it and took a new one is not included.
func (p *Partitioner) Snapshot() []*WorkRange {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[*WorkRange]bool, len(p.byWorker)+len(p.available))
	out := make([]*WorkRange, 0, len(p.byWorker)+len(p.available))
	for _, r := range p.byWorker {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range p.available {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
