// Package client implements the Client Worker (spec §4.H): it runs the
// walk engine across CPU and GPU lanes, decouples producers from the
// network sender through the async DP pipeline (spec §4.I), and recovers
// from connection loss (spec §4.J).
package client

import (
	"sync"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// DefaultBatchingDelay is the coalescing wait pop_batch performs once it
// has at least one item but isn't yet at maxCount (spec §4.I).
const DefaultBatchingDelay = 50 * time.Millisecond

// DefaultQueueSoftBound is the pipeline depth at which a lane starts
// throttling itself (spec §7 kind 5: "DP queue depth above a soft
// bound... skip one compute step when queue is full").
const DefaultQueueSoftBound = 4096

// Pipeline is the lock-protected FIFO that decouples compute lanes from
// the single network sender (spec §4.I). Producers never block beyond a
// single mutex acquisition; the consumer waits with a timeout and then
// coalesces additional arrivals for up to batchingDelay.
type Pipeline struct {
	mu     sync.Mutex
	queue  []protocol.DP
	closed bool
	pushed uint64
	popped uint64

	wake chan struct{} // buffered 1: "something changed, re-check"
}

// NewPipeline builds an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{wake: make(chan struct{}, 1)}
}

func (p *Pipeline) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// PushBatch enqueues dps under a single lock acquisition and wakes the
// consumer. It takes no lane identity: the pipeline is lane-agnostic.
func (p *Pipeline) PushBatch(dps []protocol.DP) {
	if len(dps) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, dps...)
	p.pushed += uint64(len(dps))
	p.mu.Unlock()
	p.nudge()
}

// PopBatch waits up to timeout for the first item, then drains up to
// maxCount items, coalescing additional arrivals for up to one
// batchingDelay wait at a time until the batch is full or the delay
// elapses without new arrivals (spec §4.I).
func (p *Pipeline) PopBatch(maxCount int, timeout, batchingDelay time.Duration) []protocol.DP {
	if !p.waitForFirstItem(timeout) {
		return nil
	}
	batch := p.drain(maxCount)
	for len(batch) < maxCount {
		select {
		case <-p.wake:
			batch = append(batch, p.drain(maxCount-len(batch))...)
		case <-time.After(batchingDelay):
			return batch
		}
		if p.shutdownDrained() {
			return batch
		}
	}
	return batch
}

func (p *Pipeline) waitForFirstItem(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		hasItem := len(p.queue) > 0
		closed := p.closed
		p.mu.Unlock()
		if hasItem {
			return true
		}
		if closed {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-p.wake:
			continue
		case <-time.After(remaining):
			return false
		}
	}
}

func (p *Pipeline) drain(n int) []protocol.DP {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.queue) {
		n = len(p.queue)
	}
	if n == 0 {
		return nil
	}
	batch := append([]protocol.DP(nil), p.queue[:n]...)
	p.queue = p.queue[n:]
	p.popped += uint64(n)
	return batch
}

func (p *Pipeline) shutdownDrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed && len(p.queue) == 0
}

// RequestShutdown marks the pipeline closed and wakes the consumer.
// Subsequent PopBatch calls return whatever remains, then nil once
// drained.
func (p *Pipeline) RequestShutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.nudge()
}

// Depth returns the current queue length (spec §8: "pushed - popped ==
// depth at any instant, measured under the queue lock").
func (p *Pipeline) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Counters returns the lifetime pushed/popped totals.
func (p *Pipeline) Counters() (pushed, popped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed, p.popped
}
