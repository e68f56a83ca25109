package client

import (
	cryptorand "crypto/rand"
	"context"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/config"
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

// handshakeResponseLen mirrors internal/server's constant; the two sides
// of the wire must agree on it independently of any shared import.
const handshakeResponseLen = 4 + 2 + 1 + 1 + 32*5

// maxBatchSize bounds how many DPs one DP_BATCH frame carries.
const maxBatchSize = 256

// Lane runs a cohort of kangaroos to completion (until told to stop) and
// reports its index among its worker's lanes.
type Lane interface {
	Run()
	ID() int
}

// Worker is the Client Worker (spec §4.H): it holds a connection to the
// server, runs CPU and (optionally) GPU lanes against the range it was
// assigned, and reconnects with backoff on any connection loss.
type Worker struct {
	cfg      config.Client
	clientID [protocol.ClientIDLen]byte
}

// NewWorker builds a worker with a random client identity.
func NewWorker(cfg config.Client) *Worker {
	var id [protocol.ClientIDLen]byte
	if _, err := cryptorand.Read(id[:]); err != nil {
		// crypto/rand failing means the OS entropy source is broken; a
		// worker can't safely identify itself to the server in that state.
		panic(fmt.Sprintf("client: crypto/rand unavailable: %v", err))
	}
	return &Worker{cfg: cfg, clientID: id}
}

// Run connects to the server, works the assigned range, and reconnects
// with exponential backoff (spec §4.J) until ctx is cancelled or the
// server announces the key has been found.
func (w *Worker) Run(ctx context.Context) error {
	backoff := NewBackoff(config.DefaultReconnectFloor, config.DefaultReconnectCeil)
	pipeline := NewPipeline()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, resp, err := w.connect(ctx)
		if err != nil {
			log.Printf("client: connect to %s failed: %v", w.cfg.ServerAddr, err)
			if !sleepCtx(ctx, backoff.Next()) {
				return nil
			}
			continue
		}
		backoff.Reset()
		log.Printf("client: connected to %s, dpBits=%d", w.cfg.ServerAddr, resp.DPBits)

		running := &atomic.Bool{}
		running.Store(true)

		lanes, reg, err := w.buildLanes(resp, pipeline, running)
		if err != nil {
			log.Printf("client: failed to build lanes: %v", err)
			conn.Close()
			if !sleepCtx(ctx, backoff.Next()) {
				return nil
			}
			continue
		}

		for _, l := range lanes {
			go l.Run()
		}

		stopped, runErr := w.serveConnection(ctx, conn, pipeline, running, reg)
		running.Store(false)
		conn.Close()

		if stopped {
			return nil
		}
		if runErr != nil {
			log.Printf("client: connection to %s lost: %v", w.cfg.ServerAddr, runErr)
		}
		if !sleepCtx(ctx, backoff.Next()) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) connect(ctx context.Context) (net.Conn, protocol.HandshakeResponse, error) {
	conn, err := net.DialTimeout("tcp", w.cfg.ServerAddr, protocol.DefaultIOTimeout)
	if err != nil {
		return nil, protocol.HandshakeResponse{}, err
	}

	req := protocol.HandshakeRequest{ClientID: w.clientID, IntervalBits: uint8(w.cfg.IntervalBits)}
	conn.SetWriteDeadline(time.Now().Add(protocol.DefaultIOTimeout))
	if _, err := conn.Write(req.Encode()); err != nil {
		conn.Close()
		return nil, protocol.HandshakeResponse{}, fmt.Errorf("write handshake request: %w", err)
	}

	buf := make([]byte, handshakeResponseLen)
	conn.SetReadDeadline(time.Now().Add(protocol.DefaultIOTimeout))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			conn.Close()
			return nil, protocol.HandshakeResponse{}, fmt.Errorf("read handshake response: %w", err)
		}
	}

	resp, err := protocol.DecodeHandshakeResponse(buf)
	if err != nil {
		conn.Close()
		return nil, protocol.HandshakeResponse{}, err
	}
	if !resp.Accepted {
		conn.Close()
		return nil, protocol.HandshakeResponse{}, fmt.Errorf("server rejected handshake")
	}
	return conn, resp, nil
}

// buildLanes derives the herd manager, jump table, and dead-branch bound
// from the handshake response, then splits fresh cohorts across however
// many CPU lanes (and one GPU lane, if requested) this worker runs. The
// returned registry is the one place both the lanes and the read loop
// reset kangaroos through, so kIdx lookups stay correct across resets.
func (w *Worker) buildLanes(resp protocol.HandshakeResponse, pipeline *Pipeline, running *atomic.Bool) ([]Lane, *registry, error) {
	target, err := curve.PointFromXY(resp.Px, resp.Py)
	if err != nil {
		return nil, nil, fmt.Errorf("bad target point in handshake response: %w", err)
	}
	wildOffset := curve.ScalarFromBytes32(resp.WildOffset)
	rangeStart := new(big.Int).SetBytes(resp.RangeStart[:])
	rangeEnd := new(big.Int).SetBytes(resp.RangeEnd[:])

	width := new(big.Int).Sub(rangeEnd, rangeStart)
	sqrtWidth := new(big.Int).Sqrt(width)
	bound := new(big.Int).Mul(sqrtWidth, big.NewInt(2*int64(kangaroo.DefaultSafetyFactor)))
	deadBranchDist, err := curve.NewDist(bound)
	if err != nil {
		return nil, nil, fmt.Errorf("dead branch bound: %w", err)
	}

	mgr := kangaroo.NewManager(target, wildOffset, rangeStart, rangeEnd, deadBranchDist)
	jt := curve.BuildJumpTable()
	dpMask := kangaroo.DPMask(int(resp.DPBits))
	reg := newRegistry(mgr)

	cohortSize := w.cfg.CohortPerLane
	if cohortSize <= 0 {
		cohortSize = config.DefaultCohortPerLane
	}

	lanes := make([]Lane, 0, w.cfg.CPULanes+1)

	laneIdx := 0
	for i := 0; i < w.cfg.CPULanes; i++ {
		base := uint64(laneIdx) * uint64(cohortSize)
		rng := rand.New(rand.NewSource(int64(base) + 1))
		cohort := mgr.NewCohort(cohortSize, base, rng)
		for _, k := range cohort {
			reg.add(k)
		}
		lanes = append(lanes, NewCPULane(laneIdx, reg, cohort, jt, dpMask, deadBranchDist, pipeline, running))
		laneIdx++
	}
	if w.cfg.UseGPU {
		base := uint64(laneIdx) * uint64(cohortSize)
		rng := rand.New(rand.NewSource(int64(base) + 1))
		cohort := mgr.NewCohort(cohortSize, base, rng)
		for _, k := range cohort {
			reg.add(k)
		}
		lanes = append(lanes, NewGPULane(laneIdx, w.cfg.GPUID, reg, cohort, jt, dpMask, deadBranchDist, pipeline, running))
		laneIdx++
	}

	return lanes, reg, nil
}

// serveConnection runs the read and write loops for one connection.
// It returns (true, nil) once the server announces the key was found,
// or (false, err) on any connection failure that should trigger a
// reconnect.
func (w *Worker) serveConnection(ctx context.Context, conn net.Conn, pipeline *Pipeline, running *atomic.Bool, reg *registry) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopCh := make(chan struct{})
	errCh := make(chan error, 2)

	go func() { errCh <- w.readLoop(connCtx, conn, reg, stopCh) }()
	go func() { errCh <- w.writeLoop(connCtx, conn, pipeline) }()

	select {
	case <-ctx.Done():
		return false, nil
	case <-stopCh:
		pipeline.RequestShutdown()
		cancel()
		return true, nil
	case err := <-errCh:
		cancel()
		return false, err
	}
}

func (w *Worker) readLoop(ctx context.Context, conn net.Conn, reg *registry, stopCh chan struct{}) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return err
		}

		switch msgType {
		case protocol.MsgStop:
			close(stopCh)
			return nil
		case protocol.MsgResetKangaroo:
			kIdx, err := protocol.DecodeResetKangaroo(payload)
			if err != nil {
				continue
			}
			if k, ok := reg.lookup(kIdx); ok {
				reg.reset(k, rng)
			}
		case protocol.MsgRangeReassign:
			// This worker already holds the range it was handed at
			// handshake time; a reclaim issued against a previous,
			// disconnected session surfaces here only as a log line.
			// The authoritative new range arrives on this worker's own
			// next handshake after reconnecting.
			if _, _, err := protocol.DecodeRangeReassign(payload); err != nil {
				log.Printf("client: bad RANGE_REASSIGN: %v", err)
			}
		case protocol.MsgDPAck:
			// Nothing to do: the pipeline already dropped the acked
			// batch when writeLoop sent it successfully.
		case protocol.MsgPing:
			ts, err := protocol.DecodePing(payload)
			if err == nil {
				_ = protocol.WriteFrame(conn, protocol.MsgPing, protocol.EncodePing(ts))
			}
		}
	}
}

func (w *Worker) writeLoop(ctx context.Context, conn net.Conn, pipeline *Pipeline) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch := pipeline.PopBatch(maxBatchSize, protocol.DefaultIOTimeout, DefaultBatchingDelay)
		if len(batch) == 0 {
			continue
		}
		if err := protocol.WriteFrame(conn, protocol.MsgDPBatch, protocol.EncodeDPBatch(batch)); err != nil {
			// spec §4.J: keep the batch in memory and resend after
			// reconnect, rather than dropping discovered DPs.
			pipeline.PushBatch(batch)
			return err
		}
	}
}
