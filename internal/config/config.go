// Package config holds the engine's tunable parameters, shared between the
// server and client binaries. Values arrive from CLI flags (cmd/kangaroo)
// and are validated once at startup rather than scattered through the
// components that consume them.
package config

import (
	"fmt"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/curve"
)

// Defaults mirror the spec's suggested values.
const (
	DefaultDPBits         = 20
	DefaultBucketBits     = 20
	DefaultShardBits      = 8
	DefaultSafetyFactor   = 64
	DefaultGracePeriod    = 120 * time.Second
	DefaultOvershoot      = 2
	DefaultBatchingDelay  = 50 * time.Millisecond
	DefaultStatsInterval  = 10 * time.Second
	DefaultIOTimeout      = 30 * time.Second
	DefaultReconnectFloor = 1 * time.Second
	DefaultReconnectCeil  = 30 * time.Second
	DefaultServerPort     = 17337
	DefaultCohortPerLane  = 128
)

// Server is the validated set of parameters the server binary needs (spec
// §6 CLI surface: "-s -sp -d -w -wi -o <target file>").
type Server struct {
	Port              int
	DPBits            int
	BucketBits        int
	ShardBits         int
	CheckpointPath    string
	CheckpointPeriod  time.Duration
	ResultPath        string
	IntervalBits      int // N, from the target file
	Target            curve.Point
	WildOffset        curve.Scalar
	GracePeriod       time.Duration
	OvershootFactor   int
	StatsInterval     time.Duration
	PostgresDSN       string // optional; empty disables history persistence
	DashboardAddr     string // optional HTTP dashboard bind address; empty disables it
}

// Validate rejects a Server config a careful operator would never want
// to run with.
func (c Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.DPBits < 0 || c.DPBits > 64 {
		return fmt.Errorf("config: dpBits %d out of [0,64]", c.DPBits)
	}
	if c.BucketBits < 1 || c.BucketBits > 32 {
		return fmt.Errorf("config: bucketBits %d out of [1,32]", c.BucketBits)
	}
	if c.ShardBits < 0 || c.ShardBits > c.BucketBits {
		return fmt.Errorf("config: shardBits %d must be in [0, bucketBits=%d]", c.ShardBits, c.BucketBits)
	}
	if c.IntervalBits <= 0 || c.IntervalBits > 256 {
		return fmt.Errorf("config: interval bits %d out of (0,256]", c.IntervalBits)
	}
	if c.CheckpointPeriod < 0 {
		return fmt.Errorf("config: negative checkpoint period")
	}
	return nil
}

// Client is the validated set of parameters the client binary needs (spec
// §6 CLI surface: "-c -t -gpu -gpuId -w -wi").
type Client struct {
	ServerAddr     string
	CPULanes       int
	UseGPU         bool
	GPUID          int
	CheckpointPath string
	ReportInterval time.Duration
	CohortPerLane  int // kangaroos per lane; <=0 means DefaultCohortPerLane
	IntervalBits   int // N, from the same target file the server reads
}

func (c Client) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("config: server address is required")
	}
	if c.CPULanes < 0 {
		return fmt.Errorf("config: negative CPU lane count")
	}
	if !c.UseGPU && c.CPULanes == 0 {
		return fmt.Errorf("config: at least one CPU lane is required when -gpu is not set")
	}
	if c.UseGPU && c.GPUID < 0 {
		return fmt.Errorf("config: negative gpu id")
	}
	return nil
}
