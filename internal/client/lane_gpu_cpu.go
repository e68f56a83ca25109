//go:build !cuda

package client

import (
	"log"
	"sync/atomic"

	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
)

// GPULane is the idle stand-in used when the engine is compiled without
// the 'cuda' build tag. GPU kernel internals are out of scope for this
// engine (the walk itself is identical math on either lane); a build
// without CUDA support simply can't drive the requested device, so the
// lane logs once and stays idle rather than silently running on the CPU
// under a GPU's name.
type GPULane struct {
	id    int
	gpuID int
}

// NewGPULane reports the requested device was unavailable and returns an
// idle lane.
func NewGPULane(id, gpuID int, reg *registry, cohort []*kangaroo.Kangaroo, jt *curve.JumpTable, dpMask uint64, deadBranchDist curve.Dist, pipeline *Pipeline, running *atomic.Bool) *GPULane {
	log.Printf("client: lane %d requested GPU %d, but this binary was built without CUDA support; lane idle", id, gpuID)
	return &GPULane{id: id, gpuID: gpuID}
}

// Run returns immediately; this lane contributes no kangaroos.
func (l *GPULane) Run() {}

// ID returns the lane's index among its worker's lanes.
func (l *GPULane) ID() int { return l.id }
