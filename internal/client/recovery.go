package client

import (
	"math/rand"
	"time"
)

// Backoff implements the reconnect schedule of spec §4.J: exponential
// growth from a 1s floor to a 30s ceiling, with jitter so a server
// restart doesn't get hit by every worker's retry in lockstep.
type Backoff struct {
	floor, ceil time.Duration
	current     time.Duration
}

// NewBackoff builds a backoff starting at floor and capping at ceil.
func NewBackoff(floor, ceil time.Duration) *Backoff {
	return &Backoff{floor: floor, ceil: ceil, current: floor}
}

// Next returns the delay to wait before the next reconnect attempt and
// doubles the internal counter, capped at ceil.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	b.current *= 2
	if b.current > b.ceil {
		b.current = b.ceil
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// Reset restores the backoff to its floor, called after a successful
// handshake (spec §4.J: "a clean reconnect resets the schedule").
func (b *Backoff) Reset() {
	b.current = b.floor
}
