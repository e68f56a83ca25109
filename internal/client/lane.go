package client

import (
	"math/rand"
	"sync/atomic"

	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// DefaultLaneFlushSize is how many emitted DPs a lane buffers locally
// before handing them to the pipeline in one PushBatch call (spec §4.H:
// "lanes must not take the network lock on every hop").
const DefaultLaneFlushSize = 64

// laneDeps are the pieces every lane, CPU or GPU, needs to step its
// cohort and report what it finds.
type laneDeps struct {
	id             int
	reg            *registry
	cohort         []*kangaroo.Kangaroo
	jt             *curve.JumpTable
	dpMask         uint64
	deadBranchDist curve.Dist
	pipeline       *Pipeline
	running        *atomic.Bool
	flushSize      int
	queueSoftBound int
}

// CPULane runs a cohort of kangaroos on the host CPU, one hop per
// kangaroo per loop iteration, exactly as the walk engine in package
// kangaroo defines it.
type CPULane struct {
	laneDeps
}

// NewCPULane builds a lane that steps cohort until running is cleared.
// dpMask and deadBranchDist come from the server's handshake response
// and config; pipeline is the lane's only channel back to the network
// sender.
func NewCPULane(id int, reg *registry, cohort []*kangaroo.Kangaroo, jt *curve.JumpTable, dpMask uint64, deadBranchDist curve.Dist, pipeline *Pipeline, running *atomic.Bool) *CPULane {
	return &CPULane{laneDeps{
		id:             id,
		reg:            reg,
		cohort:         cohort,
		jt:             jt,
		dpMask:         dpMask,
		deadBranchDist: deadBranchDist,
		pipeline:       pipeline,
		running:        running,
		flushSize:      DefaultLaneFlushSize,
		queueSoftBound: DefaultQueueSoftBound,
	}}
}

// Run steps the cohort until the running flag is cleared, flushing DPs
// into the pipeline in batches of flushSize (or fewer, on exit).
func (l *CPULane) Run() {
	rng := rand.New(rand.NewSource(int64(l.id) + 1))
	buf := make([]protocol.DP, 0, l.flushSize)

	for l.running.Load() {
		for _, k := range l.cohort {
			// spec §7 kind 5: queue depth above a soft bound throttles the
			// producer by skipping a step rather than piling more DPs
			// onto an already-backed-up pipeline.
			if l.pipeline.Depth() >= l.queueSoftBound {
				continue
			}
			res := kangaroo.Step(l.jt, l.dpMask, k, l.deadBranchDist)
			if res.DP != nil {
				buf = append(buf, *res.DP)
			}
			if res.DeadBranch {
				l.reg.reset(k, rng)
			}
		}
		if len(buf) >= l.flushSize {
			l.pipeline.PushBatch(buf)
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		l.pipeline.PushBatch(buf)
	}
}

// ID returns the lane's index among its worker's lanes.
func (l *CPULane) ID() int { return l.id }
