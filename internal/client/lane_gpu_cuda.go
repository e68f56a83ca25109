//go:build cuda

package client

/*
#cgo LDFLAGS: -L${SRCDIR} -lkangaroo_kernel -L/usr/local/cuda/lib64 -lcudart
#include "bindings.h"
*/
import "C"

import (
	"log"
	"math/rand"
	"sync/atomic"
	"unsafe"

	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// GPULane steps a whole cohort per call by offloading the jump-table walk
// to the CUDA kernel (kernel source and build are outside this engine's
// scope; bindings.h/libkangaroo_kernel.so are supplied at build time).
type GPULane struct {
	laneDeps
	gpuID int
}

// NewGPULane builds a lane bound to gpuID.
func NewGPULane(id, gpuID int, reg *registry, cohort []*kangaroo.Kangaroo, jt *curve.JumpTable, dpMask uint64, deadBranchDist curve.Dist, pipeline *Pipeline, running *atomic.Bool) *GPULane {
	return &GPULane{
		laneDeps: laneDeps{
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
		},
		gpuID: gpuID,
	}
}

// Run hands the whole cohort's (x, y, dist) state to the kernel each
// round, reads back the advanced state and any emitted DPs, and applies
// dead-branch resets on the host exactly as the CPU lane does.
func (l *GPULane) Run() {
	rng := rand.New(rand.NewSource(int64(l.id) + 1))
	n := len(l.cohort)
	if n == 0 {
		return
	}

	xs := make([]C.longlong, n*4)
	ys := make([]C.longlong, n*4)
	dists := make([]C.longlong, n*3)
	dpFlags := make([]C.int, n)

	log.Printf("client: GPU lane %d bound to device %d, cohort size %d", l.id, l.gpuID, n)

	buf := make([]protocol.DP, 0, l.flushSize)
	for l.running.Load() {
		// spec §7 kind 5: throttle the whole batch call when the pipeline
		// is already backed up, rather than adding to it.
		if l.pipeline.Depth() >= l.queueSoftBound {
			continue
		}
		for i, k := range l.cohort {
			x, y := k.Pos.X(), k.Pos.Y()
			for w := 0; w < 4; w++ {
				xs[i*4+w] = C.longlong(beToUint64(x[w*8 : w*8+8]))
				ys[i*4+w] = C.longlong(beToUint64(y[w*8 : w*8+8]))
			}
			db := k.Dist.Bytes24()
			for w := 0; w < 3; w++ {
				dists[i*3+w] = C.longlong(beToUint64(db[w*8 : w*8+8]))
			}
		}

		C.StepKangarooBatchCUDA(
			(*C.longlong)(unsafe.Pointer(&xs[0])),
			(*C.longlong)(unsafe.Pointer(&ys[0])),
			(*C.longlong)(unsafe.Pointer(&dists[0])),
			(*C.int)(unsafe.Pointer(&dpFlags[0])),
			C.int(n),
			C.ulonglong(l.dpMask),
		)

		for i, k := range l.cohort {
			var x, y [32]byte
			for w := 0; w < 4; w++ {
				putUint64BE(x[w*8:w*8+8], uint64(xs[i*4+w]))
				putUint64BE(y[w*8:w*8+8], uint64(ys[i*4+w]))
			}
			var db [24]byte
			for w := 0; w < 3; w++ {
				putUint64BE(db[w*8:w*8+8], uint64(dists[i*3+w]))
			}
			pos, err := curve.PointFromXY(x, y)
			if err != nil {
				l.reg.reset(k, rng)
				continue
			}
			k.Pos = pos
			k.Dist = curve.DistFromBytes24(db)

			if dpFlags[i] != 0 {
				buf = append(buf, protocol.DP{X: k.Pos.XLimbs(), Dist: db, KIdx: k.KIdx})
			}
			if k.Dist.Cmp(l.deadBranchDist) >= 0 {
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
func (l *GPULane) ID() int { return l.id }

func beToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putUint64BE(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
